package nettransport

import (
	"testing"
	"time"

	"github.com/bc-dunia/marketperf/internal/coretransport"
)

func TestSubmitAndPollRoundTrip(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		server := New(conn)
		defer server.Close()
		msg, ok, err := server.Poll(2 * time.Second)
		if err != nil || !ok {
			serverDone <- err
			return
		}
		if msg.ItemName != "TRI.N" {
			serverDone <- nil
			return
		}
		_, err = server.Submit(coretransport.Message{Type: coretransport.MsgRefresh, StreamID: msg.StreamID, Complete: true})
		serverDone <- err
	}()

	client, err := Dial(ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if _, err := client.Submit(coretransport.Message{Type: coretransport.MsgItemRequest, StreamID: 1, ItemName: "TRI.N"}); err != nil {
		t.Fatalf("client submit: %v", err)
	}

	msg, ok, err := client.Poll(2 * time.Second)
	if err != nil {
		t.Fatalf("client poll: %v", err)
	}
	if !ok {
		t.Fatal("expected a reply before timeout")
	}
	if msg.Type != coretransport.MsgRefresh || !msg.Complete {
		t.Fatalf("unexpected reply: %+v", msg)
	}

	if err := <-serverDone; err != nil {
		t.Fatalf("server goroutine: %v", err)
	}
}

func TestPollTimesOutWithoutData(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan *Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- New(conn)
	}()

	client, err := Dial(ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	server := <-accepted
	if server == nil {
		t.Fatal("accept failed")
	}
	defer server.Close()

	_, ok, err := client.Poll(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if ok {
		t.Fatal("expected timeout with no data sent")
	}
}
