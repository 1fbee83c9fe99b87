package stats

import "sync/atomic"

// CountStat is an incrementing total with "change since last read" delta
// semantics (spec.md C3). It is updated only by its owning thread and
// read (via Delta) by the stats thread; the atomic underlying type makes
// that cross-goroutine read race-free even though spec.md §5 tolerates a
// plain racy read.
type CountStat struct {
	total     atomic.Int64
	lastRead  int64
}

// Add increments the total by delta (delta may be negative only in tests;
// production counters are monotonic).
func (c *CountStat) Add(delta int64) {
	c.total.Add(delta)
}

// Inc increments the total by one.
func (c *CountStat) Inc() {
	c.total.Add(1)
}

// Total returns the all-time total.
func (c *CountStat) Total() int64 {
	return c.total.Load()
}

// Delta returns total-since-last-Delta-call and advances the read
// watermark. Concurrent Delta callers would race on the watermark; by
// convention only the stats thread calls Delta.
func (c *CountStat) Delta() int64 {
	current := c.total.Load()
	delta := current - c.lastRead
	c.lastRead = current
	return delta
}

// Reset clears the total and the read watermark.
func (c *CountStat) Reset() {
	c.total.Store(0)
	c.lastRead = 0
}
