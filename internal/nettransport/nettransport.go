// Package nettransport is a minimal concrete coretransport.Channel over
// a plain TCP socket, gob-encoded. spec.md §1 places the real wire
// encoding and transport library out of scope, and the teacher's own
// domain wire stack (the distributed MCP control plane's gRPC/protobuf
// dependencies) has no component left to serve once that control plane
// is dropped (see DESIGN.md) — so this package is a standability shim
// letting cmd/consumer, cmd/provider, and cmd/niprovider actually run
// end to end over a socket, built on net and encoding/gob rather than a
// fabricated dependency. coretransport.FakeChannel remains the
// in-memory double the worker/session test suites exercise the
// would-block/call-again paths against, since a blocking TCP write has
// no such states.
package nettransport

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bc-dunia/marketperf/internal/coretransport"
)

// Conn adapts one net.Conn into a coretransport.Channel.
type Conn struct {
	conn net.Conn
	enc  *gob.Encoder
	dec  *gob.Decoder
	bw   *bufio.Writer

	writeMu sync.Mutex
}

// Dial connects to addr and wraps the resulting TCP connection.
func Dial(addr string) (*Conn, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("nettransport: dial %s: %w", addr, err)
	}
	return New(c), nil
}

// Listen opens a TCP listener on addr for a provider/niprovider binary
// to Accept connections from.
func Listen(addr string) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("nettransport: listen %s: %w", addr, err)
	}
	return l, nil
}

// New wraps an already-established net.Conn (e.g. from a Listener's
// Accept) as a Channel.
func New(conn net.Conn) *Conn {
	bw := bufio.NewWriter(conn)
	return &Conn{
		conn: conn,
		enc:  gob.NewEncoder(bw),
		dec:  gob.NewDecoder(conn),
		bw:   bw,
	}
}

// Submit gob-encodes and flushes msg. A blocking TCP write has no
// would-block/call-again state of its own, so every non-error send is
// SubmitOK; only a genuine I/O failure is reported, wrapped as
// coretransport.ErrHardFailure per spec.md §4.13.
func (c *Conn) Submit(msg coretransport.Message) (coretransport.SubmitResult, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.enc.Encode(&msg); err != nil {
		return 0, fmt.Errorf("%w: encode: %v", coretransport.ErrHardFailure, err)
	}
	if err := c.bw.Flush(); err != nil {
		return 0, fmt.Errorf("%w: flush: %v", coretransport.ErrHardFailure, err)
	}
	return coretransport.SubmitOK, nil
}

// Poll blocks for at most timeout waiting for one inbound message,
// realizing spec.md §4.10's bounded-select suspension point via
// net.Conn's read deadline.
func (c *Conn) Poll(timeout time.Duration) (coretransport.Message, bool, error) {
	deadline := time.Now().Add(timeout)
	if timeout <= 0 {
		deadline = time.Time{} // no deadline: block until something arrives
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return coretransport.Message{}, false, fmt.Errorf("%w: set_deadline: %v", coretransport.ErrHardFailure, err)
	}
	var msg coretransport.Message
	if err := c.dec.Decode(&msg); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return coretransport.Message{}, false, nil
		}
		return coretransport.Message{}, false, fmt.Errorf("%w: decode: %v", coretransport.ErrHardFailure, err)
	}
	return msg, true, nil
}

// Flush is a no-op: Submit already flushes its buffered writer after
// every message.
func (c *Conn) Flush() error {
	return nil
}

// Close tears down the underlying socket.
func (c *Conn) Close() error {
	return c.conn.Close()
}
