package lineindex

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kk-code-lab/rview/internal/charset"
)

const (
	defaultChunkSize = 128 * 1024
	minChunkSize     = 4 * 1024
	maxChunkSize     = 8 * 1024 * 1024
	progressInterval = 150 * time.Millisecond

	envChunkSize = "RVIEW_INDEX_CHUNK"
)

// Progress is one emission from a background index build.
type Progress struct {
	BytesScanned int64
	FileSize     int64
	Lines        int
	Done         bool
	Cancelled    bool
}

// Fraction maps the scan position into [0, 1]. An empty file jumps straight
// to 1 when the build finishes.
func (p Progress) Fraction() float64 {
	if p.FileSize <= 0 {
		if p.Done {
			return 1
		}
		return 0
	}
	f := float64(p.BytesScanned) / float64(p.FileSize)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Builder runs one background scan that fills an Index with line starts.
// A builder is single-use: cancelling it or letting it finish freezes its
// index for good, and switching encodings means constructing a new builder.
type Builder struct {
	path      string
	enc       charset.Encoding
	chunkSize int
	index     *Index
	events    chan Progress

	cancelMu  sync.Mutex
	cancel    context.CancelFunc
	started   atomic.Bool
	closeOnce sync.Once
}

// NewBuilder prepares a build for path under enc. The scan does not start
// until Start is called.
func NewBuilder(path string, enc charset.Encoding) *Builder {
	chunk := clampInt(parseEnvInt(envChunkSize, defaultChunkSize), minChunkSize, maxChunkSize)
	return &Builder{
		path:      path,
		enc:       enc,
		chunkSize: chunk,
		index:     NewIndex(len(charset.NewlineSeq(enc))),
		events:    make(chan Progress, 16),
	}
}

// Index returns the index this builder fills. Safe to read while the build
// is running.
func (b *Builder) Index() *Index {
	return b.index
}

// Events returns the single-producer progress channel. It receives throttled
// intermediate updates plus exactly one terminal emission (Done or
// Cancelled), and is closed when the build goroutine exits.
func (b *Builder) Events() <-chan Progress {
	return b.events
}

// Start launches the background scan. Calling Start more than once is a
// no-op.
func (b *Builder) Start() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancelMu.Lock()
	b.cancel = cancel
	b.cancelMu.Unlock()
	go b.run(ctx)
}

// Cancel freezes the index at its current published prefix. The scan notices
// between chunks, so cancellation lands quickly even on huge files.
func (b *Builder) Cancel() {
	b.cancelMu.Lock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.cancelMu.Unlock()
}

func (b *Builder) run(ctx context.Context) {
	defer b.closeOnce.Do(func() { close(b.events) })

	ix := b.index
	ix.state.Store(int32(StateIndexing))

	file, err := os.Open(b.path)
	if err != nil {
		debugf("index open %s: %v", b.path, err)
		ix.finish(StateComplete, 0)
		b.emit(Progress{Done: true})
		return
	}
	defer func() {
		_ = file.Close()
	}()

	var fileSize int64
	if st, statErr := file.Stat(); statErr == nil {
		fileSize = st.Size()
	}

	nlSeq := charset.NewlineSeq(b.enc)
	nlLen := len(nlSeq)
	overlap := nlLen - 1

	buf := make([]byte, b.chunkSize)
	var carry []byte
	batch := make([]int64, 0, 1024)

	offset := int64(0)
	pendingStart := int64(0)
	pendingValid := true
	lastEmit := time.Now().Add(-progressInterval)

	for {
		select {
		case <-ctx.Done():
			ix.finish(StateCancelled, offset)
			b.emit(Progress{BytesScanned: offset, FileSize: fileSize, Lines: ix.Count(), Cancelled: true})
			debugf("index cancelled at %d bytes, %d lines", offset, ix.Count())
			return
		default:
		}

		n, readErr := readAtRetry(file, buf, offset)
		if n > 0 {
			scanEnd := offset + int64(n)
			data := buf[:n]
			base := offset
			if len(carry) > 0 {
				data = append(append(make([]byte, 0, len(carry)+n), carry...), data...)
				base -= int64(len(carry))
			}

			batch = batch[:0]
			if pendingValid && pendingStart < scanEnd {
				batch = append(batch, pendingStart)
				pendingValid = false
			}

			cursor := 0
			for {
				rel := bytes.Index(data[cursor:], nlSeq)
				if rel < 0 {
					break
				}
				pos := base + int64(cursor+rel)
				if nlLen == 2 && pos%2 != 0 {
					cursor += rel + 1
					continue
				}
				next := pos + int64(nlLen)
				if next < scanEnd {
					batch = append(batch, next)
				} else {
					pendingStart = next
					pendingValid = true
				}
				cursor += rel + nlLen
			}

			ix.appendOffsets(batch, scanEnd)

			if overlap > 0 {
				take := overlap
				if take > len(data) {
					take = len(data)
				}
				carry = append(carry[:0], data[len(data)-take:]...)
			}
			offset = scanEnd

			if now := time.Now(); now.Sub(lastEmit) >= progressInterval {
				b.emit(Progress{BytesScanned: offset, FileSize: fileSize, Lines: ix.Count()})
				lastEmit = now
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				debugf("index read %s at %d: %v", b.path, offset, readErr)
			}
			break
		}
		if n == 0 {
			break
		}
	}

	ix.finish(StateComplete, offset)
	b.emit(Progress{BytesScanned: offset, FileSize: fileSize, Lines: ix.Count(), Done: true})
	debugf("index complete: %d bytes, %d lines", offset, ix.Count())
}

// emit delivers a progress update without ever blocking the scan. When the
// buffer is full the oldest pending update is dropped; the terminal emission
// therefore always fits.
func (b *Builder) emit(p Progress) {
	select {
	case b.events <- p:
		return
	default:
	}
	select {
	case <-b.events:
	default:
	}
	select {
	case b.events <- p:
	default:
	}
}

func readAtRetry(file *os.File, buf []byte, off int64) (int, error) {
	n, err := file.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		n, err = file.ReadAt(buf, off)
	}
	return n, err
}
