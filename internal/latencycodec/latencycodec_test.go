package latencycodec

import "testing"

func TestEncodeZeroStartTime(t *testing.T) {
	s := Encode(ClassUpdate, 0)
	if s.Value != 0 {
		t.Fatalf("expected no stamp for zero start time, got %v", s)
	}
	if s.Field != TimTrk1 {
		t.Fatalf("expected TimTrk1 for update, got %v", s.Field)
	}
}

func TestEncodeFieldPerClass(t *testing.T) {
	cases := []struct {
		class MessageClass
		want  FieldID
	}{
		{ClassUpdate, TimTrk1},
		{ClassPost, TimTrk2},
		{ClassGeneric, TimTrk3},
	}
	for _, c := range cases {
		s := Encode(c.class, 100)
		if s.Field != c.want || s.Value != 100 {
			t.Fatalf("class %v: got %+v, want field %v value 100", c.class, s, c.want)
		}
	}
}

func TestRoundTripTimestamp(t *testing.T) {
	start := int64(1_000_000)
	s := Encode(ClassUpdate, start)
	latency, ok := Decode(ClassUpdate, s.Value, start+500)
	if !ok {
		t.Fatal("expected ok")
	}
	if latency != 500 {
		t.Fatalf("latency = %d, want 500", latency)
	}
	if latency < 0 {
		t.Fatal("latency must be non-negative")
	}
}

func TestDecodeAbsentField(t *testing.T) {
	if _, ok := Decode(ClassUpdate, 0, 1000); ok {
		t.Fatal("expected ok=false for absent field")
	}
}

func TestRefreshPlaceholders(t *testing.T) {
	p := RefreshPlaceholders()
	if p[0].Field != TimTrk1 || p[1].Field != TimTrk2 || p[2].Field != TimTrk3 {
		t.Fatalf("unexpected placeholders: %+v", p)
	}
	for _, s := range p {
		if s.Value != 0 {
			t.Fatalf("placeholder should be blank, got %+v", s)
		}
	}
}

func TestNanosToMicros(t *testing.T) {
	if got := NanosToMicros(1_500_000); got != 1500 {
		t.Fatalf("got %d want 1500", got)
	}
}
