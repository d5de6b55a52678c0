package engine

import (
	"bytes"
	"context"

	"github.com/kk-code-lab/rview/internal/query"
)

// searchCancelStride is how many lines a scan covers between cancellation
// checks. Small enough that a superseding keystroke lands within tens of
// milliseconds even on slow storage.
const searchCancelStride = 64

const searchChunkSize = 256 * 1024

// SearchResult reports where a scan landed. Line addresses text-mode
// results, Offset hex-mode ones.
type SearchResult struct {
	Line   int
	Offset int64
	Found  bool
}

// searchSession holds the state of one incremental search. The anchor is
// captured once when the prompt opens; every keystroke re-runs from it, so
// editing the query never drifts away from where the user started.
type searchSession struct {
	active    bool
	backwards bool
	useFuzzy  bool
	anchor    int
	input     string
	committed string
}

// cancelActiveSearch signals the in-flight scan, if any, and bumps the
// supersession token so a late result from the old scan is dropped before
// its callback. The old goroutine is abandoned, never joined.
func (e *LargeFileEngine) cancelActiveSearch() {
	e.searchMu.Lock()
	defer e.searchMu.Unlock()
	if e.searchCancel != nil {
		e.searchCancel()
		e.searchCancel = nil
		e.searchToken++
	}
}

func (e *LargeFileEngine) setSearchCancel(cancel context.CancelFunc) int {
	e.searchMu.Lock()
	e.searchToken++
	token := e.searchToken
	e.searchCancel = cancel
	e.searchMu.Unlock()
	return token
}

func (e *LargeFileEngine) clearSearchCancel(token int) {
	e.searchMu.Lock()
	if e.searchToken == token {
		e.searchCancel = nil
	}
	e.searchMu.Unlock()
}

func (e *LargeFileEngine) isSearchTokenCurrent(token int) bool {
	e.searchMu.Lock()
	defer e.searchMu.Unlock()
	return e.searchToken == token
}

// FindNextAsync scans for pattern starting just after (or, backwards, just
// before) startLine, wrapping around the published prefix. It supersedes
// any scan already in flight. The callback fires with the outcome unless
// the scan is cancelled first; a cancelled scan reports nothing at all, so
// callers never flash a false "not found" mid-typing.
func (e *LargeFileEngine) FindNextAsync(pattern string, startLine int, backwards, useFuzzy bool, onResult func(SearchResult)) {
	step := 1
	if backwards {
		step = -1
	}
	e.findLinesAsync(pattern, startLine+step, backwards, useFuzzy, onResult)
}

// findLinesAsync is FindNextAsync without the one-line advance: the scan
// includes from itself. Incremental keystrokes use it so the session anchor
// line can match.
func (e *LargeFileEngine) findLinesAsync(pattern string, from int, backwards, useFuzzy bool, onResult func(SearchResult)) {
	e.cancelActiveSearch()

	prepared := query.Prepare(pattern, useFuzzy)
	ctx, cancel := context.WithCancel(context.Background())
	token := e.setSearchCancel(cancel)

	go func() {
		defer e.clearSearchCancel(token)
		defer cancel()

		res := e.scanLines(ctx, prepared, from, backwards)
		if ctx.Err() != nil {
			return
		}
		if !e.isSearchTokenCurrent(token) {
			return
		}
		if onResult != nil {
			onResult(res)
		}
	}()
}

// scanLines walks the published prefix line by line with wraparound. When
// the index is incomplete the scan covers only what has been published:
// not-found then means "not found in the published prefix".
func (e *LargeFileEngine) scanLines(ctx context.Context, prepared query.PreparedQuery, from int, backwards bool) SearchResult {
	e.mu.Lock()
	ix := e.index
	enc := e.enc
	e.mu.Unlock()
	if ix == nil {
		return SearchResult{}
	}
	count := ix.Count()
	if count == 0 || prepared.Empty() {
		return SearchResult{}
	}

	from = ((from % count) + count) % count
	step := 1
	if backwards {
		step = -1
	}

	line := from
	for scanned := 0; scanned < count; scanned++ {
		if scanned%searchCancelStride == 0 && ctx.Err() != nil {
			return SearchResult{}
		}
		text, ok := e.textLine(ix, enc, line, false)
		if ok && prepared.IsMatch(text) {
			return SearchResult{Line: line, Found: true}
		}
		line += step
		if line >= count {
			line = 0
		} else if line < 0 {
			line = count - 1
		}
	}
	return SearchResult{}
}

// StartIncrementalSearch opens a search-as-you-type session anchored at
// the current top line.
func (e *LargeFileEngine) StartIncrementalSearch(backwards, useFuzzy bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = searchSession{
		active:    true,
		backwards: backwards,
		useFuzzy:  useFuzzy,
		anchor:    e.scroll,
	}
}

// SearchActive reports whether an incremental session is open.
func (e *LargeFileEngine) SearchActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.active
}

// SearchAnchor returns the line the open session resolves against.
func (e *LargeFileEngine) SearchAnchor() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.anchor
}

// UpdateIncrementalSearch re-runs the session's scan with the edited
// query. Every keystroke resolves from the fixed anchor, not from the last
// match, and supersedes the previous keystroke's scan. A found result
// moves the visible position to the match.
func (e *LargeFileEngine) UpdateIncrementalSearch(q string, onResult func(SearchResult)) {
	e.mu.Lock()
	if !e.session.active {
		e.mu.Unlock()
		return
	}
	e.session.input = q
	anchor := e.session.anchor
	backwards := e.session.backwards
	useFuzzy := e.session.useFuzzy
	e.mu.Unlock()

	if q == "" {
		e.cancelActiveSearch()
		e.SetScrollOffset(anchor)
		return
	}

	e.findLinesAsync(q, anchor, backwards, useFuzzy, func(res SearchResult) {
		if res.Found {
			e.SetScrollOffset(res.Line)
		}
		if onResult != nil {
			onResult(res)
		}
	})
}

// CommitSearch closes the session keeping its query for FindNext and
// FindPrev, and publishes it as the advisory highlight pattern.
func (e *LargeFileEngine) CommitSearch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.session.active {
		return
	}
	e.session.active = false
	e.session.committed = e.session.input
	e.HighlightPattern = e.session.input
	e.HighlightIsRegex = e.session.useFuzzy
}

// CancelIncrementalSearch abandons the session and restores the anchor as
// the visible position.
func (e *LargeFileEngine) CancelIncrementalSearch() {
	e.cancelActiveSearch()
	e.mu.Lock()
	anchor := e.session.anchor
	active := e.session.active
	e.session.active = false
	e.session.input = ""
	e.mu.Unlock()
	if active {
		e.SetScrollOffset(anchor)
	}
}

// CommittedQuery returns the query left behind by the last commit.
func (e *LargeFileEngine) CommittedQuery() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.committed
}

// FindNext advances to the next match of the committed query, anchored at
// the current visible position. The wraparound scan can come back around
// to the line it started on; that is reported as not found so "no further
// matches" never masquerades as progress.
func (e *LargeFileEngine) FindNext(onResult func(SearchResult)) {
	e.findCommitted(false, onResult)
}

// FindPrev is FindNext in the other direction.
func (e *LargeFileEngine) FindPrev(onResult func(SearchResult)) {
	e.findCommitted(true, onResult)
}

func (e *LargeFileEngine) findCommitted(backwards bool, onResult func(SearchResult)) {
	e.mu.Lock()
	q := e.session.committed
	useFuzzy := e.session.useFuzzy
	cur := e.scroll
	e.mu.Unlock()
	if q == "" {
		return
	}
	e.FindNextAsync(q, cur, backwards, useFuzzy, func(res SearchResult) {
		if res.Found && res.Line == cur {
			res = SearchResult{}
		}
		if res.Found {
			e.SetScrollOffset(res.Line)
		}
		if onResult != nil {
			onResult(res)
		}
	})
}

// ParseHexNeedle interprets a hex-mode query. A non-empty even-length
// string of hex digit pairs becomes the byte sequence it spells; anything
// else falls back to the query's raw ASCII bytes. The second return tells
// the caller which reading applied.
func ParseHexNeedle(q string) ([]byte, bool) {
	if q == "" {
		return nil, false
	}
	if len(q)%2 != 0 {
		return []byte(q), false
	}
	buf := make([]byte, 0, len(q)/2)
	for i := 0; i < len(q); i += 2 {
		hi, ok1 := hexNibble(q[i])
		lo, ok2 := hexNibble(q[i+1])
		if !ok1 || !ok2 {
			return []byte(q), false
		}
		buf = append(buf, hi<<4|lo)
	}
	return buf, true
}

func hexNibble(ch byte) (byte, bool) {
	switch {
	case ch >= '0' && ch <= '9':
		return ch - '0', true
	case ch >= 'a' && ch <= 'f':
		return ch - 'a' + 10, true
	case ch >= 'A' && ch <= 'F':
		return ch - 'A' + 10, true
	default:
		return 0, false
	}
}

// FindBytesAsync scans the raw file for a hex-mode needle starting just
// after (or before) startOffset. The scan is chunked with a needle-length
// overlap carried across chunk boundaries, checks cancellation per chunk,
// and reports only the jump target offset; highlighting the visible window
// is the caller's byte-equality problem.
func (e *LargeFileEngine) FindBytesAsync(needleText string, startOffset int64, backwards bool, onResult func(SearchResult)) {
	e.cancelActiveSearch()

	needle, _ := ParseHexNeedle(needleText)
	ctx, cancel := context.WithCancel(context.Background())
	token := e.setSearchCancel(cancel)

	go func() {
		defer e.clearSearchCancel(token)
		defer cancel()

		res := e.scanBytes(ctx, needle, startOffset, backwards)
		if ctx.Err() != nil {
			return
		}
		if !e.isSearchTokenCurrent(token) {
			return
		}
		if onResult != nil {
			onResult(res)
		}
	}()
}

func (e *LargeFileEngine) scanBytes(ctx context.Context, needle []byte, startOffset int64, backwards bool) SearchResult {
	if len(needle) == 0 {
		return SearchResult{}
	}
	size := e.size
	overlap := int64(len(needle) - 1)

	if backwards {
		// Mirrored chunk walk toward offset 0; each window keeps an
		// overlap tail on its right edge so straddling matches survive.
		end := startOffset
		if end > size {
			end = size
		}
		if end <= 0 {
			return SearchResult{}
		}
		for end > 0 {
			if ctx.Err() != nil {
				return SearchResult{}
			}
			start := end - searchChunkSize
			if start < 0 {
				start = 0
			}
			winEnd := end + overlap
			if winEnd > size {
				winEnd = size
			}
			window := e.GetBytes(start, int(winEnd-start))
			if idx := bytes.LastIndex(window, needle); idx >= 0 {
				return SearchResult{Offset: start + int64(idx), Found: true}
			}
			end = start
		}
		return SearchResult{}
	}

	from := startOffset + 1
	if from < 0 {
		from = 0
	}
	for offset := from; offset < size; offset += searchChunkSize {
		if ctx.Err() != nil {
			return SearchResult{}
		}
		winLen := int64(searchChunkSize) + overlap
		if offset+winLen > size {
			winLen = size - offset
		}
		window := e.GetBytes(offset, int(winLen))
		if len(window) == 0 {
			break
		}
		if idx := bytes.Index(window, needle); idx >= 0 {
			return SearchResult{Offset: offset + int64(idx), Found: true}
		}
	}
	return SearchResult{}
}
