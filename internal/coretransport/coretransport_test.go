package coretransport

import "testing"

func TestFakeChannelAcceptLimit(t *testing.T) {
	ch := NewFakeChannel()
	ch.AcceptLimit = 2
	for i := 0; i < 2; i++ {
		res, err := ch.Submit(Message{Type: MsgUpdate})
		if err != nil || res != SubmitOK {
			t.Fatalf("submit %d: res=%v err=%v", i, res, err)
		}
	}
	res, err := ch.Submit(Message{Type: MsgUpdate})
	if err != nil || res != SubmitWouldBlock {
		t.Fatalf("expected would-block after limit, got res=%v err=%v", res, err)
	}
	if len(ch.Sent()) != 2 {
		t.Fatalf("expected 2 sent messages, got %d", len(ch.Sent()))
	}
}

func TestFakeChannelPollOrdering(t *testing.T) {
	ch := NewFakeChannel()
	ch.Enqueue(Message{StreamID: 1})
	ch.Enqueue(Message{StreamID: 2})

	m1, ok, _ := ch.Poll(0)
	if !ok || m1.StreamID != 1 {
		t.Fatalf("expected stream 1 first, got %+v", m1)
	}
	m2, ok, _ := ch.Poll(0)
	if !ok || m2.StreamID != 2 {
		t.Fatalf("expected stream 2 second, got %+v", m2)
	}
	if _, ok, _ := ch.Poll(0); ok {
		t.Fatal("expected empty queue")
	}
}

func TestStreamStateIsFinal(t *testing.T) {
	if StreamOpen.IsFinal() {
		t.Fatal("open should not be final")
	}
	if !StreamClosed.IsFinal() || !StreamClosedRecover.IsFinal() {
		t.Fatal("closed and closed-recover should be final")
	}
}

func TestCloseIdempotent(t *testing.T) {
	ch := NewFakeChannel()
	if ch.Closed() {
		t.Fatal("should start open")
	}
	ch.Close()
	if !ch.Closed() {
		t.Fatal("expected closed after Close")
	}
}
