// Package stats implements the online value statistics (C2) and count
// statistics (C3) shared by every per-thread stats block.
package stats

import (
	"errors"
	"math"
)

// ErrInvalidState is returned by Print-equivalents when no sample has
// ever been recorded.
var ErrInvalidState = errors.New("invalid state: no samples recorded")

// DisplayMode names a formatting for a ValueStats. A ValueStats stores
// the mode it was built with; nothing in this module reads it back, so
// it does not change any rendered output.
type DisplayMode int

const (
	// DisplayThousandths renders values divided by 1000 (e.g. usec to msec).
	DisplayThousandths DisplayMode = iota
	// DisplayInteger renders integer values unscaled.
	DisplayInteger
)

// ValueStats is a Welford-style running accumulator of count, mean,
// variance, min and max. It is safe to Reset and reuse; it is not itself
// goroutine-safe — callers serialize access (the teacher's
// single-writer-then-single-reader handoff is the model: one goroutine
// owns a ValueStats at a time).
type ValueStats struct {
	count  int64
	mean   float64
	sum    float64
	sumSq  float64
	min    float64
	max    float64
	display DisplayMode
}

// NewValueStats returns a zeroed accumulator using the given display mode.
func NewValueStats(display DisplayMode) *ValueStats {
	return &ValueStats{display: display}
}

// Update folds x into the running statistics per spec.md §4.2:
//
//	count += 1
//	mean' = mean + (x - mean)/count
//	sum += x; sum_sq += x^2
//	variance = (sum_sq - sum^2/count)/(count-1) if count > 1 else 0
//	max = max(max, x); min = min(min, x)
func (v *ValueStats) Update(x float64) {
	v.count++
	v.mean += (x - v.mean) / float64(v.count)
	v.sum += x
	v.sumSq += x * x
	if v.count == 1 {
		v.min, v.max = x, x
		return
	}
	if x < v.min {
		v.min = x
	}
	if x > v.max {
		v.max = x
	}
}

// Reset clears all accumulated samples.
func (v *ValueStats) Reset() {
	*v = ValueStats{display: v.display}
}

// Count returns the number of samples recorded.
func (v *ValueStats) Count() int64 {
	return v.count
}

// Variance returns the sample variance, or 0 with count <= 1.
func (v *ValueStats) Variance() float64 {
	if v.count <= 1 {
		return 0
	}
	return (v.sumSq - v.sum*v.sum/float64(v.count)) / float64(v.count-1)
}

// Mean returns the running mean, or ErrInvalidState if no sample was
// ever recorded.
func (v *ValueStats) Mean() (float64, error) {
	if v.count == 0 {
		return 0, ErrInvalidState
	}
	return v.mean, nil
}

// Min returns the minimum sample, or ErrInvalidState if empty.
func (v *ValueStats) Min() (float64, error) {
	if v.count == 0 {
		return 0, ErrInvalidState
	}
	return v.min, nil
}

// Max returns the maximum sample, or ErrInvalidState if empty.
func (v *ValueStats) Max() (float64, error) {
	if v.count == 0 {
		return 0, ErrInvalidState
	}
	return v.max, nil
}

// Snapshot is an immutable, formatted copy of a ValueStats suitable for
// CSV emission or merging into a global total.
type Snapshot struct {
	Count    int64
	Mean     float64
	StdDev   float64
	Min      float64
	Max      float64
}

// Snapshot returns a point-in-time copy. It does not require any prior
// Update (an empty ValueStats yields a zero Snapshot, matching the CSV
// contract of printing zeros for unused columns rather than failing the
// whole row).
func (v *ValueStats) Snapshot() Snapshot {
	variance := v.Variance()
	stddev := 0.0
	if variance > 0 {
		stddev = math.Sqrt(variance)
	}
	mean := 0.0
	if v.count > 0 {
		mean = v.mean
	}
	return Snapshot{
		Count:  v.count,
		Mean:   mean,
		StdDev: stddev,
		Min:    v.min,
		Max:    v.max,
	}
}

// Merge folds another ValueStats's samples into v using the parallel
// combination formula for Welford accumulators, so per-thread statistics
// can be rolled into a global total without re-visiting raw samples
// (spec.md §4.11 step 2/3: "if threads > 1 ... update ... global value
// statistics").
func (v *ValueStats) Merge(other *ValueStats) {
	if other.count == 0 {
		return
	}
	if v.count == 0 {
		*v = *other
		return
	}
	combinedCount := v.count + other.count
	delta := other.mean - v.mean
	newMean := v.mean + delta*float64(other.count)/float64(combinedCount)

	if other.min < v.min {
		v.min = other.min
	}
	if other.max > v.max {
		v.max = other.max
	}
	v.sum += other.sum
	v.sumSq += other.sumSq
	v.count = combinedCount
	v.mean = newMean
}
