package scheduler

import (
	"testing"

	"github.com/bc-dunia/marketperf/internal/randarray"
)

func TestSchedulerRateAccuracy(t *testing.T) {
	ticksPerSec := 10
	updates, err := NewRate(101, 10, ticksPerSec, 1, 7)
	if err != nil {
		t.Fatal(err)
	}
	s := New(Config{TicksPerSec: ticksPerSec, Updates: updates})

	total := 0
	for tick := 0; tick < ticksPerSec; tick++ {
		b := s.Tick(tick)
		total += b.UpdateCount
	}
	if total != 101 {
		t.Fatalf("total updates = %d, want 101", total)
	}
}

func TestSchedulerAlwaysLatency(t *testing.T) {
	rate, err := NewRate(10, randarray.Always, 10, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !rate.AlwaysLatency() {
		t.Fatal("expected AlwaysLatency true for ALWAYS sentinel")
	}
	s := New(Config{TicksPerSec: 10, Updates: rate})
	b := s.Tick(0)
	if b.UpdateCount == 0 {
		t.Fatal("expected nonzero update count")
	}
}

func TestSchedulerNilRatesAreInert(t *testing.T) {
	s := New(Config{TicksPerSec: 10})
	b := s.Tick(0)
	if b.RequestCount != 0 || b.PostCount != 0 || b.GenericCount != 0 || b.UpdateCount != 0 {
		t.Fatalf("expected all-zero burst, got %+v", b)
	}
}

func TestSchedulerZeroRateIsInert(t *testing.T) {
	rate, err := NewRate(0, 0, 10, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	s := New(Config{TicksPerSec: 10, Requests: rate})
	for tick := 0; tick < 10; tick++ {
		b := s.Tick(tick)
		if b.RequestCount != 0 {
			t.Fatalf("expected zero rate to stay inert, got %d", b.RequestCount)
		}
	}
}
