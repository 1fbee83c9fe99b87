// Package latencyqueue implements the mutex-protected double-buffered
// time-record queue (C4): writers append under a lock; the stats thread
// swaps the write list for an empty one and drains the old list without
// holding the lock. This is grounded on the mutex+condition-variable
// idiom of the teacher's internal/telemetry.BoundedQueue, adapted from
// tiered single-slice shedding to a true two-list swap so every record
// is delivered exactly once (spec.md §4.3, testable property 5).
package latencyqueue

import (
	"sync"

	"github.com/bc-dunia/marketperf/internal/latencycodec"
)

// Record is one (start, end, ticks_per_usec) latency sample, tagged
// with the message class it was measured on so the stats aggregator
// can route it to the matching per-class value statistics (spec.md
// §6.4: separate update/posting/genmsg latency columns).
type Record struct {
	Start        int64
	End          int64
	TicksPerUsec int64
	Class        latencycodec.MessageClass
}

// LatencyUsec computes (end-start)/ticks_per_usec per spec.md §4.11 step 2.
func (r Record) LatencyUsec() int64 {
	if r.TicksPerUsec == 0 {
		return 0
	}
	return (r.End - r.Start) / r.TicksPerUsec
}

// Queue holds two internal lists, A and B. Exactly one is the "write
// list" at any moment; the other is idle, ready to become the next
// write list once swapped in.
type Queue struct {
	mu        sync.Mutex
	lists     [2][]Record
	writeIdx  int
}

// New returns an empty Queue. Capacity grows on demand as spec.md §4.3
// requires ("capacity grows on demand"); nothing is pre-allocated.
func New() *Queue {
	return &Queue{}
}

// Append adds a record to the current write list. Safe for concurrent
// callers (multiple append paths within one worker's tick processing).
func (q *Queue) Append(r Record) {
	q.mu.Lock()
	q.lists[q.writeIdx] = append(q.lists[q.writeIdx], r)
	q.mu.Unlock()
}

// SwapAndRead swaps the write-list role to the other list and returns
// the records that had accumulated in the previous write list. The
// returned slice is owned by the caller; the queue's new write list
// starts empty. This never blocks and never holds the lock during the
// (already-complete) copy-out, satisfying spec.md §5's "no lock held
// across a transport call" and "reader drains without the lock".
func (q *Queue) SwapAndRead() []Record {
	q.mu.Lock()
	drained := q.lists[q.writeIdx]
	oldIdx := q.writeIdx
	q.writeIdx = 1 - q.writeIdx
	q.lists[oldIdx] = nil
	q.mu.Unlock()
	return drained
}

// Len reports the number of records currently buffered in the write
// list. Intended for diagnostics only; racy by construction once the
// mutex is released, matching spec.md §5's counter-read tolerance.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lists[q.writeIdx])
}
