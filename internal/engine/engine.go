package engine

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kk-code-lab/rview/internal/charset"
	"github.com/kk-code-lab/rview/internal/lineindex"
)

const (
	defaultCacheLines = 512
	minCacheLines     = 16
	maxCacheLines     = 65536

	envCacheLines = "RVIEW_CACHE_LINES"
)

// ViewMode selects how the engine addresses file content: by decoded line
// or by fixed-width byte row.
type ViewMode int

const (
	ModeText ViewMode = iota
	ModeHex
)

func (m ViewMode) String() string {
	if m == ModeHex {
		return "hex"
	}
	return "text"
}

// HexBytesPerRow is the fixed row width used for hex addressing.
const HexBytesPerRow = 16

// maxLineWindowBytes bounds a single line's read. A newline-free file
// publishes one line spanning the whole scan frontier; without the cap
// the first window request would allocate the file.
const maxLineWindowBytes = 256 * 1024

// LargeFileEngine serves bounded windows of an arbitrarily large file
// without ever holding the whole file in memory. It owns the file handle,
// the line index and its background build, the active encoding and view
// mode, and the search session state.
//
// All windowed reads are bounded: a single seek plus read per line or byte
// row. Requests that run past the published index prefix or past EOF come
// back short, never as errors.
type LargeFileEngine struct {
	path string
	file *os.File
	size int64

	mu       sync.Mutex
	enc      charset.Encoding
	mode     ViewMode
	builder  *lineindex.Builder
	index    *lineindex.Index
	scroll   int
	viewH    int
	advisory bool

	cache      map[int]string
	cacheOrder []int
	cacheMax   int

	indexing     atomic.Bool
	progressBits atomic.Uint64

	completedMu sync.Mutex
	completed   []func()

	searchMu     sync.Mutex
	searchCancel func()
	searchToken  int
	session      searchSession

	// Advisory rendering hints. The engine stores them for callers but
	// never interprets them itself.
	HighlightPattern string
	HighlightIsRegex bool
}

// Open stats the file, sniffs its encoding from a bounded prefix, and
// starts the initial background index build. The returned engine must be
// Closed when done.
func Open(path string) (*LargeFileEngine, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, fmt.Errorf("open %s: is a directory", path)
	}

	sample := make([]byte, charset.DetectSampleSize)
	n, readErr := file.ReadAt(sample, 0)
	if readErr != nil && readErr != io.EOF {
		n = 0
	}
	sample = sample[:n]

	e := &LargeFileEngine{
		path:     path,
		file:     file,
		size:     info.Size(),
		enc:      charset.Detect(sample).Encoding,
		cache:    make(map[int]string),
		cacheMax: clampInt(parseEnvInt(envCacheLines, defaultCacheLines), minCacheLines, maxCacheLines),
	}
	if charset.LooksBinary(sample) {
		e.mode = ModeHex
	}

	e.mu.Lock()
	e.startIndexingLocked()
	e.mu.Unlock()
	return e, nil
}

// Close stops the index build and any in-flight search and releases the
// file handle.
func (e *LargeFileEngine) Close() {
	if e == nil {
		return
	}
	e.cancelActiveSearch()
	e.mu.Lock()
	if e.builder != nil {
		e.builder.Cancel()
	}
	file := e.file
	e.file = nil
	e.mu.Unlock()
	if file != nil {
		_ = file.Close()
	}
}

// Path returns the file path the engine was opened on.
func (e *LargeFileEngine) Path() string { return e.path }

// Size returns the file size captured at open time.
func (e *LargeFileEngine) Size() int64 { return e.size }

// Encoding returns the active encoding.
func (e *LargeFileEngine) Encoding() charset.Encoding {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc
}

// EncodingAdvisory reports whether decoding under the active encoding has
// produced suspicious replacement-character runs. Advisory only; windows
// are still served.
func (e *LargeFileEngine) EncodingAdvisory() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.advisory
}

// Mode returns the active view mode.
func (e *LargeFileEngine) Mode() ViewMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetMode switches between text and hex addressing. The scroll anchor
// resets because line and row positions are not comparable. The line index
// is untouched: it depends on the encoding, not the mode.
func (e *LargeFileEngine) SetMode(m ViewMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == m {
		return
	}
	e.mode = m
	e.scroll = 0
}

// LineCount returns the published line count. While indexing it grows;
// after a cancelled build it stays frozen.
func (e *LargeFileEngine) LineCount() int {
	e.mu.Lock()
	ix := e.index
	e.mu.Unlock()
	if ix == nil {
		return 0
	}
	return ix.Count()
}

// IndexComplete reports whether the current build scanned the whole file.
func (e *LargeFileEngine) IndexComplete() bool {
	e.mu.Lock()
	ix := e.index
	e.mu.Unlock()
	return ix != nil && ix.Complete()
}

// IsIndexing reports whether a background build is running.
func (e *LargeFileEngine) IsIndexing() bool {
	return e.indexing.Load()
}

// IndexingProgress returns the scan position of the current build in
// [0, 1].
func (e *LargeFileEngine) IndexingProgress() float64 {
	return floatFromBits(e.progressBits.Load())
}

// OnIndexingCompleted registers a callback fired exactly once per build
// when its scan finishes. Callbacks run on the build's drain goroutine.
func (e *LargeFileEngine) OnIndexingCompleted(fn func()) {
	if fn == nil {
		return
	}
	e.completedMu.Lock()
	e.completed = append(e.completed, fn)
	e.completedMu.Unlock()
}

// CancelIndexing freezes the current index at its published prefix.
// Navigation within the prefix keeps working; lines beyond it stay
// unavailable until an encoding change triggers a fresh build.
func (e *LargeFileEngine) CancelIndexing() {
	e.mu.Lock()
	b := e.builder
	e.mu.Unlock()
	if b != nil {
		b.Cancel()
	}
}

// SetEncoding switches the active encoding. Line boundaries are a function
// of decoding, so the old index is discarded atomically and a fresh build
// starts. Any active search session is cancelled rather than remapped.
func (e *LargeFileEngine) SetEncoding(enc charset.Encoding) {
	e.cancelActiveSearch()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = searchSession{}
	if e.enc == enc {
		return
	}
	e.enc = enc
	e.advisory = false
	e.scroll = 0
	e.cache = make(map[int]string)
	e.cacheOrder = nil
	if e.builder != nil {
		e.builder.Cancel()
	}
	e.startIndexingLocked()
}

// CycleEncoding advances to the next encoding in the manual rotation.
func (e *LargeFileEngine) CycleEncoding() charset.Encoding {
	e.mu.Lock()
	next := charset.Cycle(e.enc)
	e.mu.Unlock()
	e.SetEncoding(next)
	return next
}

// startIndexingLocked tears down nothing: callers cancel the old builder
// first. A new builder, its index, and a drain goroutine replace the old
// ones in one step.
func (e *LargeFileEngine) startIndexingLocked() {
	b := lineindex.NewBuilder(e.path, e.enc)
	e.builder = b
	e.index = b.Index()
	e.indexing.Store(true)
	e.progressBits.Store(floatToBits(0))
	b.Start()
	go e.drainProgress(b)
}

func (e *LargeFileEngine) drainProgress(b *lineindex.Builder) {
	for p := range b.Events() {
		if !e.applyProgress(b, p) {
			return
		}
		if p.Done {
			e.fireCompleted()
		}
	}
}

// applyProgress stores an update only while b is still the active
// builder. Checking identity and storing under the same lock keeps a
// superseded build's late terminal event from clobbering the state its
// replacement just set.
func (e *LargeFileEngine) applyProgress(b *lineindex.Builder, p lineindex.Progress) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.builder != b {
		return false
	}
	e.progressBits.Store(floatToBits(p.Fraction()))
	if p.Done || p.Cancelled {
		e.indexing.Store(false)
	}
	return true
}

func (e *LargeFileEngine) fireCompleted() {
	e.completedMu.Lock()
	fns := make([]func(), len(e.completed))
	copy(fns, e.completed)
	e.completedMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// GetTextLines returns up to count decoded lines starting at startLine.
// Lines beyond the published index prefix are simply absent, so callers
// must expect short reads while a build is in flight.
func (e *LargeFileEngine) GetTextLines(startLine, count int) []string {
	if startLine < 0 || count <= 0 {
		return nil
	}
	e.mu.Lock()
	ix := e.index
	enc := e.enc
	e.mu.Unlock()
	if ix == nil {
		return nil
	}

	lines := make([]string, 0, count)
	for i := startLine; i < startLine+count; i++ {
		text, ok := e.textLine(ix, enc, i, true)
		if !ok {
			break
		}
		lines = append(lines, text)
	}
	return lines
}

// textLine reads and decodes one line. Stable lines (those with a
// published successor, or any line of a complete index) go through the
// decoded-line cache; the frontier line of an in-flight build is re-read
// each time because its span may still grow.
func (e *LargeFileEngine) textLine(ix *lineindex.Index, enc charset.Encoding, i int, useCache bool) (string, bool) {
	start, end, ok := ix.LineSpan(i)
	if !ok {
		return "", false
	}

	if useCache {
		e.mu.Lock()
		if text, hit := e.cache[i]; hit {
			e.mu.Unlock()
			return text, true
		}
		e.mu.Unlock()
	}

	length := int(end - start)
	if length > maxLineWindowBytes {
		length = maxLineWindowBytes
	}
	var raw []byte
	if length > 0 {
		raw = make([]byte, length)
		n, err := readAtRetry(e.fileHandle(), raw, start)
		if err != nil && err != io.EOF {
			return "", false
		}
		raw = raw[:n]
	}
	if i == 0 {
		raw = stripBOM(raw, enc)
	}

	text := charset.DecodeLine(raw, enc)
	// The frontier line's span ends at the scan position, so it can carry
	// its newline; interior lines only ever carry a CR from CRLF input.
	text = strings.TrimSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\r")
	if !e.advisoryChecked() && charset.HasReplacementRun(text, charset.ReplacementRunLimit) {
		e.setAdvisory()
	}

	if useCache && (ix.Complete() || i+1 < ix.Count()) {
		e.cacheLine(i, text)
	}
	return text, true
}

func (e *LargeFileEngine) fileHandle() *os.File {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file
}

func (e *LargeFileEngine) advisoryChecked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.advisory
}

func (e *LargeFileEngine) setAdvisory() {
	e.mu.Lock()
	e.advisory = true
	e.mu.Unlock()
}

func (e *LargeFileEngine) cacheLine(i int, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.cache[i]; exists {
		e.cache[i] = text
		return
	}
	e.cache[i] = text
	e.cacheOrder = append(e.cacheOrder, i)
	if len(e.cacheOrder) > e.cacheMax {
		evict := e.cacheOrder[0]
		e.cacheOrder = e.cacheOrder[1:]
		delete(e.cache, evict)
	}
}

// GetBytes returns up to count raw bytes starting at startByte. It is
// independent of the line index and the view mode, and truncates silently
// at EOF.
func (e *LargeFileEngine) GetBytes(startByte int64, count int) []byte {
	if startByte < 0 || count <= 0 {
		return nil
	}
	file := e.fileHandle()
	if file == nil {
		return nil
	}
	buf := make([]byte, count)
	n, err := readAtRetry(file, buf, startByte)
	if err != nil && err != io.EOF {
		return nil
	}
	return buf[:n]
}

// HexLines returns formatted hex rows (offset, byte columns, ASCII gutter)
// starting at startRow. Rows past EOF are absent.
func (e *LargeFileEngine) HexLines(startRow, count int) []string {
	if startRow < 0 || count <= 0 {
		return nil
	}
	lines := make([]string, 0, count)
	for row := startRow; row < startRow+count; row++ {
		offset := int64(row) * HexBytesPerRow
		chunk := e.GetBytes(offset, HexBytesPerRow)
		if len(chunk) == 0 {
			break
		}
		lines = append(lines, formatHexLine(offset, chunk))
	}
	return lines
}

// HexRowCount returns the total number of 16-byte rows the file spans.
func (e *LargeFileEngine) HexRowCount() int {
	return int((e.size + HexBytesPerRow - 1) / HexBytesPerRow)
}

// SetViewportHeight tells the engine how many rows the caller displays so
// scroll clamping can leave a full window visible.
func (e *LargeFileEngine) SetViewportHeight(h int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h < 0 {
		h = 0
	}
	e.viewH = h
	e.scroll = e.clampScrollLocked(e.scroll)
}

// ScrollOffset returns the current top line (text) or top row (hex).
func (e *LargeFileEngine) ScrollOffset() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scroll
}

// SetScrollOffset moves the window anchor, clamping silently against the
// row total of the mode active right now.
func (e *LargeFileEngine) SetScrollOffset(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scroll = e.clampScrollLocked(n)
}

// ScrollBy moves the window anchor by delta rows with the same clamping.
func (e *LargeFileEngine) ScrollBy(delta int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scroll = e.clampScrollLocked(e.scroll + delta)
}

// ScrollToEnd jumps to the last full window. In text mode this lands on
// the last published line, which is the true last line once the build
// completes.
func (e *LargeFileEngine) ScrollToEnd() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scroll = e.maxScrollLocked()
}

func (e *LargeFileEngine) clampScrollLocked(n int) int {
	if n < 0 {
		return 0
	}
	if max := e.maxScrollLocked(); n > max {
		return max
	}
	return n
}

func (e *LargeFileEngine) maxScrollLocked() int {
	total := e.totalRowsLocked()
	max := total - e.viewH
	if max < 0 {
		max = 0
	}
	return max
}

func (e *LargeFileEngine) totalRowsLocked() int {
	if e.mode == ModeHex {
		return int((e.size + HexBytesPerRow - 1) / HexBytesPerRow)
	}
	if e.index == nil {
		return 0
	}
	return e.index.Count()
}

// readAtRetry reads at off, retrying once on a transient failure. The
// caller treats a second failure as a short read.
func readAtRetry(file *os.File, buf []byte, off int64) (int, error) {
	if file == nil {
		return 0, io.EOF
	}
	n, err := file.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		n, err = file.ReadAt(buf, off)
	}
	return n, err
}

func stripBOM(raw []byte, enc charset.Encoding) []byte {
	switch enc {
	case charset.UTF8BOM:
		if len(raw) >= 3 && raw[0] == 0xEF && raw[1] == 0xBB && raw[2] == 0xBF {
			return raw[3:]
		}
	case charset.UTF8:
		if len(raw) >= 3 && raw[0] == 0xEF && raw[1] == 0xBB && raw[2] == 0xBF {
			return raw[3:]
		}
	case charset.UTF16LE:
		if len(raw) >= 2 && raw[0] == 0xFF && raw[1] == 0xFE {
			return raw[2:]
		}
	case charset.UTF16BE:
		if len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF {
			return raw[2:]
		}
	}
	return raw
}

func formatHexLine(offset int64, chunk []byte) string {
	var builder strings.Builder
	builder.Grow(80)
	fmt.Fprintf(&builder, "%08X  ", offset)

	for i := 0; i < HexBytesPerRow; i++ {
		if i < len(chunk) {
			fmt.Fprintf(&builder, "%02X ", chunk[i])
		} else {
			builder.WriteString("   ")
		}
		if i == 7 {
			builder.WriteString(" ")
		}
	}

	builder.WriteString(" |")
	for i := 0; i < len(chunk); i++ {
		builder.WriteByte(printableASCII(chunk[i]))
	}
	for i := len(chunk); i < HexBytesPerRow; i++ {
		builder.WriteByte(' ')
	}
	builder.WriteString("|")
	return builder.String()
}

func printableASCII(b byte) byte {
	if b >= 32 && b <= 126 {
		return b
	}
	return '.'
}
