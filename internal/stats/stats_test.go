package stats

import (
	"math"
	"testing"
)

func TestValueStatsInvalidState(t *testing.T) {
	v := NewValueStats(DisplayInteger)
	if _, err := v.Mean(); err != ErrInvalidState {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestValueStatsUpdate(t *testing.T) {
	v := NewValueStats(DisplayInteger)
	samples := []float64{10, 20, 30, 40, 50}
	for _, s := range samples {
		v.Update(s)
	}
	mean, err := v.Mean()
	if err != nil {
		t.Fatal(err)
	}
	if mean != 30 {
		t.Fatalf("mean = %v, want 30", mean)
	}
	// sample variance of {10,20,30,40,50} is 250.
	if math.Abs(v.Variance()-250) > 1e-9 {
		t.Fatalf("variance = %v, want 250", v.Variance())
	}
	min, _ := v.Min()
	max, _ := v.Max()
	if min != 10 || max != 50 {
		t.Fatalf("min=%v max=%v, want 10/50", min, max)
	}
	if v.Count() != 5 {
		t.Fatalf("count = %d, want 5", v.Count())
	}
}

func TestValueStatsSingleSampleVarianceZero(t *testing.T) {
	v := NewValueStats(DisplayInteger)
	v.Update(42)
	if v.Variance() != 0 {
		t.Fatalf("single-sample variance should be 0, got %v", v.Variance())
	}
}

func TestValueStatsReset(t *testing.T) {
	v := NewValueStats(DisplayInteger)
	v.Update(5)
	v.Reset()
	if v.Count() != 0 {
		t.Fatalf("expected reset to zero count")
	}
	if _, err := v.Mean(); err != ErrInvalidState {
		t.Fatalf("expected ErrInvalidState after reset")
	}
}

func TestValueStatsMerge(t *testing.T) {
	a := NewValueStats(DisplayInteger)
	b := NewValueStats(DisplayInteger)
	for _, s := range []float64{1, 2, 3} {
		a.Update(s)
	}
	for _, s := range []float64{4, 5, 6} {
		b.Update(s)
	}
	a.Merge(b)
	if a.Count() != 6 {
		t.Fatalf("merged count = %d, want 6", a.Count())
	}
	mean, _ := a.Mean()
	if math.Abs(mean-3.5) > 1e-9 {
		t.Fatalf("merged mean = %v, want 3.5", mean)
	}
	min, _ := a.Min()
	max, _ := a.Max()
	if min != 1 || max != 6 {
		t.Fatalf("merged min/max = %v/%v, want 1/6", min, max)
	}
}

func TestCountStatDelta(t *testing.T) {
	var c CountStat
	c.Add(5)
	c.Add(3)
	if got := c.Delta(); got != 8 {
		t.Fatalf("delta = %d, want 8", got)
	}
	if got := c.Delta(); got != 0 {
		t.Fatalf("second delta = %d, want 0", got)
	}
	c.Inc()
	if got := c.Delta(); got != 1 {
		t.Fatalf("delta after inc = %d, want 1", got)
	}
	if got := c.Total(); got != 9 {
		t.Fatalf("total = %d, want 9", got)
	}
}

func TestCountStatReset(t *testing.T) {
	var c CountStat
	c.Add(10)
	c.Reset()
	if c.Total() != 0 {
		t.Fatalf("expected reset total 0")
	}
	if c.Delta() != 0 {
		t.Fatalf("expected reset delta 0")
	}
}
