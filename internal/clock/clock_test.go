package clock

import "testing"

func TestBurstRateAccuracy(t *testing.T) {
	// testable property 1: sum of per-tick bursts over T seconds equals rate*T.
	cases := []struct{ rate, ticks, seconds int }{
		{100, 10, 1},
		{101, 10, 1},
		{101, 10, 3},
		{1000, 3, 5},
		{7, 4, 10},
	}
	for _, c := range cases {
		var total int
		for s := 0; s < c.seconds; s++ {
			for tick := 0; tick < c.ticks; tick++ {
				total += Burst(c.rate, c.ticks, tick)
			}
		}
		want := c.rate * c.seconds
		if total != want {
			t.Fatalf("rate=%d ticks=%d seconds=%d: got %d want %d", c.rate, c.ticks, c.seconds, total, want)
		}
	}
}

func TestBurstZeroTicks(t *testing.T) {
	if got := Burst(10, 0, 0); got != 0 {
		t.Fatalf("expected 0 for zero ticks, got %d", got)
	}
}

func TestNanosPerTick(t *testing.T) {
	if got := NanosPerTick(1000); got != 1_000_000 {
		t.Fatalf("got %d want 1000000", got)
	}
	if got := NanosPerTick(0); got != 0 {
		t.Fatalf("got %d want 0", got)
	}
}

func TestSourceMonotonic(t *testing.T) {
	s := New()
	a := s.NowNanos()
	b := s.NowNanos()
	if b < a {
		t.Fatalf("clock went backwards: %d then %d", a, b)
	}
}
