package itemstate

import "testing"

func TestRequestQueueFIFO(t *testing.T) {
	r := New(1000, 10, true)
	a := r.AddToRequestQueue("A", Domain("MarketPrice"), false, false, false)
	b := r.AddToRequestQueue("B", Domain("MarketPrice"), false, false, false)

	got, ok := r.PopFromRequestQueue()
	if !ok || got.StreamID != a.StreamID {
		t.Fatalf("expected A first, got %+v", got)
	}
	got, ok = r.PopFromRequestQueue()
	if !ok || got.StreamID != b.StreamID {
		t.Fatalf("expected B second, got %+v", got)
	}
	if _, ok := r.PopFromRequestQueue(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestStreamIDsSequentialAndUnique(t *testing.T) {
	r := New(5000, 10, true)
	a := r.AddToRequestQueue("A", "MarketPrice", false, false, false)
	b := r.AddToRequestQueue("B", "MarketPrice", false, false, false)
	if a.StreamID != 5000 || b.StreamID != 5001 {
		t.Fatalf("unexpected stream ids: %d %d", a.StreamID, b.StreamID)
	}
}

func TestStateMonotonicity(t *testing.T) {
	r := New(1, 10, true)
	rec := r.AddToRequestQueue("A", "MarketPrice", false, false, false)
	if rec.State != NotRequested {
		t.Fatalf("initial state = %v", rec.State)
	}
	if err := r.MoveToAwaitingRefresh(rec); err != nil {
		t.Fatal(err)
	}
	if rec.State != WaitingForRefresh {
		t.Fatalf("state = %v, want WAITING_FOR_REFRESH", rec.State)
	}
	if err := r.MoveToRefreshComplete(rec); err != nil {
		t.Fatal(err)
	}
	if rec.State != HasRefresh {
		t.Fatalf("state = %v, want HAS_REFRESH", rec.State)
	}
	if err := r.MoveToAwaitingRefresh(rec); err != ErrBackwardTransition {
		t.Fatalf("expected ErrBackwardTransition, got %v", err)
	}
	if err := r.MoveToRefreshComplete(rec); err != ErrBackwardTransition {
		t.Fatalf("expected ErrBackwardTransition, got %v", err)
	}
}

func TestResolveO1(t *testing.T) {
	r := New(100, 10, true)
	rec := r.AddToRequestQueue("A", "MarketPrice", false, false, false)
	got, ok := r.Resolve(rec.StreamID)
	if !ok || got != rec {
		t.Fatalf("resolve failed: %+v %v", got, ok)
	}
	if _, ok := r.Resolve(99); ok {
		t.Fatal("expected miss below start")
	}
	if _, ok := r.Resolve(200); ok {
		t.Fatal("expected miss beyond range")
	}
}

func TestPostAndGenericQueueMembership(t *testing.T) {
	r := New(1, 10, true)
	postOnly := r.AddToRequestQueue("P", "MarketPrice", true, false, false)
	genOnly := r.AddToRequestQueue("G", "MarketPrice", false, true, false)
	snapshotPost := r.AddToRequestQueue("SP", "MarketPrice", true, false, true)
	plain := r.AddToRequestQueue("X", "MarketPrice", false, false, false)

	for _, rec := range []*Record{postOnly, genOnly, snapshotPost, plain} {
		r.MoveToAwaitingRefresh(rec)
		r.MoveToRefreshComplete(rec)
	}

	p, ok := r.NextPost()
	if !ok || p.StreamID != postOnly.StreamID {
		t.Fatalf("expected only postOnly in post queue, got %+v ok=%v", p, ok)
	}
	if _, ok := r.NextPost(); !ok {
		t.Fatal("rotating queue of 1 should keep returning")
	}

	g, ok := r.NextGeneric()
	if !ok || g.StreamID != genOnly.StreamID {
		t.Fatalf("expected only genOnly in generic queue, got %+v", g)
	}
}

func TestPostingDisabledGlobally(t *testing.T) {
	r := New(1, 10, false)
	rec := r.AddToRequestQueue("P", "MarketPrice", true, false, false)
	r.MoveToAwaitingRefresh(rec)
	r.MoveToRefreshComplete(rec)
	if _, ok := r.NextPost(); ok {
		t.Fatal("posting globally disabled: post queue should be empty")
	}
}

func TestCountInRefreshComplete(t *testing.T) {
	r := New(1, 10, true)
	a := r.AddToRequestQueue("A", "MarketPrice", false, false, false)
	b := r.AddToRequestQueue("B", "MarketPrice", false, false, false)
	r.MoveToAwaitingRefresh(a)
	r.MoveToRefreshComplete(a)
	if got := r.CountInRefreshComplete(); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
	r.MoveToAwaitingRefresh(b)
	r.MoveToRefreshComplete(b)
	if got := r.CountInRefreshComplete(); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}
}
