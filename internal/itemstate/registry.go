// Package itemstate implements the per-stream item state registry (C8).
// Design note in spec.md §9 calls for replacing the original's intrusive
// linked lists (a record simultaneously a member of a FIFO queue and a
// rotating queue) with independent index queues pointing into a dense
// record array; this package does exactly that: Registry owns one
// []*Record and several []uint32 index queues, and removing a record
// from one queue never touches the others.
package itemstate

import (
	"errors"
	"fmt"
	"sync"
)

// RequestState is the one-way, monotonic subscription lifecycle state
// (spec.md §3).
type RequestState int

const (
	NotRequested RequestState = iota
	WaitingForRefresh
	HasRefresh
)

func (s RequestState) String() string {
	switch s {
	case NotRequested:
		return "NOT_REQUESTED"
	case WaitingForRefresh:
		return "WAITING_FOR_REFRESH"
	case HasRefresh:
		return "HAS_REFRESH"
	default:
		return "UNKNOWN"
	}
}

// Domain mirrors itemlist.Domain to keep this package import-independent.
type Domain string

// Record is one subscribed stream's bookkeeping object.
type Record struct {
	StreamID   uint64
	Index      uint32 // position in the dense array (streamID - start)
	Name       string
	Domain     Domain
	MessageKey string
	IsPost     bool
	IsGeneric  bool
	IsSnapshot bool
	State      RequestState

	// UpdateIterIdx / PostIterIdx / GenIterIdx are the per-stream opaque template
	// cursors (spec.md §4.5); they live on the record because each item
	// cycles through its own template sequence independently.
	UpdateIterIdx int
	PostIterIdx   int
	GenIterIdx    int
}

// ErrBackwardTransition is returned when a caller attempts to move a
// record out of HasRefresh (spec.md §4.6: "Transitions from HAS_REFRESH
// back are disallowed").
var ErrBackwardTransition = errors.New("itemstate: transition from HAS_REFRESH is disallowed")

// ErrUnexpectedClose is the fatal condition of spec.md §4.6: "receipt of
// a status with a final state while in WAITING_FOR_REFRESH fails the
// test with UNEXPECTED_CLOSE".
var ErrUnexpectedClose = errors.New("itemstate: UNEXPECTED_CLOSE")

// Registry stores records indexed by stream-id - start and the index
// queues that track bucket membership and rotation order. A Registry is
// owned by exactly one worker goroutine; the mutex exists for
// defense-in-depth, not because concurrent access is expected.
type Registry struct {
	mu sync.Mutex

	start   uint64
	records []*Record // dense array; records[i].Index == uint32(i)

	requestQueue []uint32 // FIFO: streams not yet requested

	postQueue  []uint32 // rotating: eligible for post traffic
	postCursor int
	genQueue   []uint32 // rotating: eligible for generic traffic
	genCursor  int

	refreshCompleteCount int
	postingEnabled       bool
}

// New creates a Registry for streams numbered [start, start+capacity).
func New(start uint64, capacity int, postingEnabled bool) *Registry {
	return &Registry{
		start:          start,
		records:        make([]*Record, 0, capacity),
		postingEnabled: postingEnabled,
	}
}

// AddToRequestQueue creates and registers a new record (state
// NOT_REQUESTED) and enqueues it on the request FIFO. Stream-ids are
// allocated sequentially and never reused (spec.md §3 invariant).
func (r *Registry) AddToRequestQueue(name string, domain Domain, isPost, isGeneric, isSnapshot bool) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := uint32(len(r.records))
	rec := &Record{
		StreamID:   r.start + uint64(idx),
		Index:      idx,
		Name:       name,
		Domain:     domain,
		IsPost:     isPost,
		IsGeneric:  isGeneric,
		IsSnapshot: isSnapshot,
		State:      NotRequested,
	}
	r.records = append(r.records, rec)
	r.requestQueue = append(r.requestQueue, idx)
	return rec
}

// PopFromRequestQueue removes and returns the head of the request FIFO.
func (r *Registry) PopFromRequestQueue() (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.requestQueue) == 0 {
		return nil, false
	}
	idx := r.requestQueue[0]
	r.requestQueue = r.requestQueue[1:]
	return r.records[idx], true
}

// MoveToAwaitingRefresh transitions a record from NOT_REQUESTED to
// WAITING_FOR_REFRESH. It is a logical-only move: awaiting-refresh
// membership is represented by the State field, not a separate index
// queue, since nothing ever needs to enumerate "all awaiting" records
// outside of counting (which CountInRefreshComplete's sibling could add
// if needed).
func (r *Registry) MoveToAwaitingRefresh(rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.State == HasRefresh {
		return ErrBackwardTransition
	}
	rec.State = WaitingForRefresh
	return nil
}

// MoveToRefreshComplete transitions a record to HAS_REFRESH and, if its
// flags indicate, inserts it into the post and/or generic rotating
// queues (spec.md §3 invariants: post queue membership requires
// is-post AND is-streaming (not snapshot) AND HAS_REFRESH AND posting
// globally enabled; likewise for generic).
func (r *Registry) MoveToRefreshComplete(rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.State == HasRefresh {
		return ErrBackwardTransition
	}
	rec.State = HasRefresh
	r.refreshCompleteCount++

	isStreaming := !rec.IsSnapshot
	if rec.IsPost && isStreaming && r.postingEnabled {
		r.postQueue = append(r.postQueue, rec.Index)
	}
	if rec.IsGeneric && isStreaming {
		r.genQueue = append(r.genQueue, rec.Index)
	}
	return nil
}

// FailUnexpectedClose reports the fatal condition of a final-state
// status arriving for a record, most commonly one still
// WAITING_FOR_REFRESH (spec.md §4.6).
func (r *Registry) FailUnexpectedClose(rec *Record) error {
	return fmt.Errorf("stream %d (%s): %w", rec.StreamID, rec.Name, ErrUnexpectedClose)
}

// Resolve looks up a record by stream-id in O(1).
func (r *Registry) Resolve(streamID uint64) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if streamID < r.start {
		return nil, false
	}
	idx := streamID - r.start
	if idx >= uint64(len(r.records)) {
		return nil, false
	}
	return r.records[idx], true
}

// CountInRefreshComplete returns the number of records that have
// reached HAS_REFRESH.
func (r *Registry) CountInRefreshComplete() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshCompleteCount
}

// NextPost returns the record at the post rotating queue's cursor,
// advancing the cursor by one step (spec.md glossary: "Rotating queue —
// a circular sequence of record indices advanced one step per consumer
// pull").
func (r *Registry) NextPost() (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.postQueue) == 0 {
		return nil, false
	}
	idx := r.postQueue[r.postCursor%len(r.postQueue)]
	r.postCursor = (r.postCursor + 1) % len(r.postQueue)
	return r.records[idx], true
}

// NextGeneric returns the record at the generic rotating queue's
// cursor, advancing the cursor by one step.
func (r *Registry) NextGeneric() (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.genQueue) == 0 {
		return nil, false
	}
	idx := r.genQueue[r.genCursor%len(r.genQueue)]
	r.genCursor = (r.genCursor + 1) % len(r.genQueue)
	return r.records[idx], true
}

// Len returns the total number of registered records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
