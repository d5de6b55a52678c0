package lineindex

import (
	"sync"
	"sync/atomic"
)

// State tracks an index through its build lifecycle.
type State int32

const (
	StateIdle State = iota
	StateIndexing
	StateComplete
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateIndexing:
		return "indexing"
	case StateComplete:
		return "complete"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Index holds line start offsets for one file under one encoding.
//
// Offsets are append-only: the builder goroutine pushes batches under mu and
// only then advances the published count, so a reader that stays within
// Count() never observes a torn or reordered entry. Offsets never shrink or
// mutate; switching encodings replaces the whole Index instead.
type Index struct {
	mu        sync.Mutex
	offsets   []int64
	published atomic.Int64
	frontier  atomic.Int64
	state     atomic.Int32
	nlLen     int
}

// NewIndex returns an empty index whose lines terminate with a newline
// sequence of nlLen bytes.
func NewIndex(nlLen int) *Index {
	if nlLen < 1 {
		nlLen = 1
	}
	return &Index{nlLen: nlLen}
}

// Count returns the number of published line offsets. It is monotonically
// nondecreasing for the lifetime of the index.
func (ix *Index) Count() int {
	return int(ix.published.Load())
}

// Frontier returns how many leading bytes of the file the scan has covered.
func (ix *Index) Frontier() int64 {
	return ix.frontier.Load()
}

// State returns the current lifecycle state.
func (ix *Index) State() State {
	return State(ix.state.Load())
}

// Complete reports whether the whole file has been scanned.
func (ix *Index) Complete() bool {
	return ix.State() == StateComplete
}

// Cancelled reports whether the build was stopped before completion. A
// cancelled index stays frozen: the published prefix remains readable and
// requests beyond it keep returning ok=false.
func (ix *Index) Cancelled() bool {
	return ix.State() == StateCancelled
}

// Offset returns the byte offset where line i starts. ok is false for any
// line beyond the published prefix; that is an availability answer, not an
// error.
func (ix *Index) Offset(i int) (int64, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if i < 0 || i >= int(ix.published.Load()) {
		return 0, false
	}
	return ix.offsets[i], true
}

// LineSpan returns the byte window [start, end) holding line i's content,
// excluding its trailing newline sequence. For the last published line of an
// in-flight build, end is the scan frontier, so the window may still grow.
func (ix *Index) LineSpan(i int) (start, end int64, ok bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	n := int(ix.published.Load())
	if i < 0 || i >= n {
		return 0, 0, false
	}
	start = ix.offsets[i]
	if i+1 < n {
		end = ix.offsets[i+1] - int64(ix.nlLen)
	} else {
		end = ix.frontier.Load()
	}
	if end < start {
		end = start
	}
	return start, end, true
}

// Snapshot copies the published offsets. Intended for tests and diagnostics.
func (ix *Index) Snapshot() []int64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	n := int(ix.published.Load())
	out := make([]int64, n)
	copy(out, ix.offsets[:n])
	return out
}

func (ix *Index) appendOffsets(batch []int64, frontier int64) {
	ix.mu.Lock()
	ix.offsets = append(ix.offsets, batch...)
	ix.frontier.Store(frontier)
	ix.published.Store(int64(len(ix.offsets)))
	ix.mu.Unlock()
}

func (ix *Index) finish(state State, frontier int64) {
	ix.mu.Lock()
	if frontier > ix.frontier.Load() {
		ix.frontier.Store(frontier)
	}
	ix.state.Store(int32(state))
	ix.mu.Unlock()
}
