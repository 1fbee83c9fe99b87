package randarray

import "testing"

func TestLatencyScheduleValidity(t *testing.T) {
	// testable property 2: in any one-second window with latency rate L
	// and tick rate T, exactly L entries are non-negative and each lies
	// in [0, base_or_base+1).
	total, latency, ticks, sets := 1000, 37, 100, 5
	arr, err := New(total, latency, ticks, sets, 42)
	if err != nil {
		t.Fatal(err)
	}
	base := total / ticks
	remainder := total % ticks
	maxVal := base
	if remainder > 0 {
		maxVal = base + 1
	}

	for set := 0; set < sets; set++ {
		nonNeg := 0
		for i := 0; i < ticks; i++ {
			v := arr.Next()
			if v >= 0 {
				nonNeg++
				if v >= maxVal {
					t.Fatalf("value %d outside [0, %d)", v, maxVal)
				}
			}
		}
		if nonNeg != latency {
			t.Fatalf("set %d: got %d latency-bearing slots, want %d", set, nonNeg, latency)
		}
	}
}

func TestWrap(t *testing.T) {
	arr, err := New(10, 2, 5, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	first := make([]int, arr.Len())
	for i := range first {
		first[i] = arr.Next()
	}
	second := make([]int, arr.Len())
	for i := range second {
		second[i] = arr.Next()
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("schedule did not repeat on wrap at index %d", i)
		}
	}
}

func TestConstructionErrors(t *testing.T) {
	if _, err := New(0, 1, 1, 1, 0); err != ErrZeroRate {
		t.Fatalf("expected ErrZeroRate, got %v", err)
	}
	if _, err := New(1, 0, 1, 1, 0); err != ErrZeroRate {
		t.Fatalf("expected ErrZeroRate, got %v", err)
	}
	if _, err := New(1, 1, 0, 1, 0); err != ErrZeroRate {
		t.Fatalf("expected ErrZeroRate, got %v", err)
	}
	if _, err := New(5, 10, 2, 1, 0); err != ErrLatencyExceedsTotal {
		t.Fatalf("expected ErrLatencyExceedsTotal, got %v", err)
	}
	if _, err := New(5, 1, 2, 0, 0); err != ErrNoSets {
		t.Fatalf("expected ErrNoSets, got %v", err)
	}
}
