// Package worker implements the per-connection worker (C12): the
// goroutine that owns exactly one transport channel and drives its tick
// loop, combining the scheduler, item registry, template pool, latency
// codec, and session state machine into the consumer, interactive
// provider, and non-interactive provider variants (spec.md §4.8-§4.13).
// The tick-loop/poll-with-bounded-timeout structure is grounded on the
// teacher's internal/vu worker loop (poll transport, drive a scheduled
// operation, check a shutdown flag each iteration), adapted here from
// weighted virtual-user operations to the fixed burst math of
// internal/scheduler.
package worker

import (
	"errors"
	"fmt"
	"time"

	"github.com/bc-dunia/marketperf/internal/clock"
	"github.com/bc-dunia/marketperf/internal/control"
	"github.com/bc-dunia/marketperf/internal/coretransport"
	"github.com/bc-dunia/marketperf/internal/itemstate"
	"github.com/bc-dunia/marketperf/internal/latencycodec"
	"github.com/bc-dunia/marketperf/internal/latencyqueue"
	"github.com/bc-dunia/marketperf/internal/scheduler"
	"github.com/bc-dunia/marketperf/internal/stats"
	"github.com/bc-dunia/marketperf/internal/template"
)

// Kind classifies a worker failure per spec.md §7's fatal error taxonomy.
type Kind int

const (
	KindIOTransport Kind = iota
	KindProtocol
	KindEncode
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindIOTransport:
		return "IoTransport"
	case KindProtocol:
		return "Protocol"
	case KindEncode:
		return "Encode"
	case KindDecode:
		return "Decode"
	default:
		return "Unknown"
	}
}

// Error wraps a fatal worker failure with its classification and the
// connection id it occurred on, matching the "TEST FAILED due to error
// from thread N: <location>" summary line of spec.md §7.
type Error struct {
	ID  int
	Kind Kind
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("worker %d: %s: %s: %v", e.ID, e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrPingTimeout is the protocol failure when no inbound traffic (data
// or ping) arrives within the configured ping timeout window.
var ErrPingTimeout = errors.New("worker: ping timeout")

// ErrHandshakeWouldBlock fails a handshake step that could not place its
// message on the wire. Handshake messages, unlike a scheduled tick
// burst, have no later retry opportunity, so an unsent handshake
// message is a hard failure rather than a counted-and-skipped one.
var ErrHandshakeWouldBlock = errors.New("worker: handshake message would block")

// submitHandshake submits a one-off handshake message (login, directory,
// dictionary request/push) that the caller cannot simply skip and move
// on from; an unsent result becomes a hard protocol failure.
func (c *core) submitHandshake(msg coretransport.Message) error {
	sent, err := c.submit(msg)
	if err != nil {
		return err
	}
	if !sent {
		return c.fail(KindIOTransport, "submit", ErrHandshakeWouldBlock)
	}
	return nil
}

// Counters bundles the per-connection counters the aggregator reads via
// Delta each write_stats_interval (spec.md §4.11, §6.4).
type Counters struct {
	RequestsSent      stats.CountStat
	RefreshesReceived stats.CountStat
	UpdatesSent       stats.CountStat
	UpdatesReceived   stats.CountStat
	PostsSent         stats.CountStat
	PostsReceived     stats.CountStat
	GenericsSent      stats.CountStat
	GenericsReceived  stats.CountStat
	StatusReceived    stats.CountStat
	PingsSent         stats.CountStat
	PingsReceived     stats.CountStat
	OutOfBuffers      stats.CountStat
	PackedMsgsSent    stats.CountStat
}

// CounterSnapshot is one write_stats_interval's worth of per-counter
// deltas (spec.md §4.11 step 3), read by the stats aggregator.
type CounterSnapshot struct {
	RequestsSent      int64
	RefreshesReceived int64
	UpdatesSent       int64
	UpdatesReceived   int64
	PostsSent         int64
	PostsReceived     int64
	GenericsSent      int64
	GenericsReceived  int64
	StatusReceived    int64
	PingsSent         int64
	PingsReceived     int64
	OutOfBuffers      int64
	PackedMsgsSent    int64
}

// core holds the machinery shared by every worker variant: the
// transport channel, clock, latency sink, counters, and ping-timeout
// bookkeeping. Variant-specific state (session machine, item registry,
// templates, scheduler) is embedded alongside core by each concrete
// worker type.
type core struct {
	ID          int
	Channel     coretransport.Channel
	Clock       *clock.Source
	TicksPerSec int

	Latencies *latencyqueue.Queue
	Counters  Counters
	Shutdown  *control.Shutdown

	pingIntervalNanos int64
	nextSendPingNanos int64
	recvDeadlineNanos int64

	packMaxCount int
	packBufBytes int
}

func newCore(id int, ch coretransport.Channel, clk *clock.Source, ticksPerSec int, pingIntervalSec int, sd *control.Shutdown) *core {
	c := &core{
		ID:          id,
		Channel:     ch,
		Clock:       clk,
		TicksPerSec: ticksPerSec,
		Latencies:   latencyqueue.New(),
		Shutdown:    sd,
	}
	if pingIntervalSec > 0 {
		c.pingIntervalNanos = int64(pingIntervalSec) * int64(time.Second)
		now := clk.NowNanos()
		c.nextSendPingNanos = now + c.pingIntervalNanos
		c.recvDeadlineNanos = now + 2*c.pingIntervalNanos
	}
	return c
}

// fail wraps err as a classified *Error for this worker.
func (c *core) fail(kind Kind, op string, err error) error {
	return &Error{ID: c.ID, Kind: kind, Op: op, Err: err}
}

// WorkerID identifies this connection for the aggregator's per-thread
// stats blocks and CSV file naming.
func (c *core) WorkerID() int {
	return c.ID
}

// DrainLatencies swaps and returns every latency record accumulated
// since the last call, per spec.md §4.11 step 2.
func (c *core) DrainLatencies() []latencyqueue.Record {
	return c.Latencies.SwapAndRead()
}

// CounterDeltas snapshots every counter's change-delta, per spec.md
// §4.11 step 3. Must be called from a single goroutine (the stats
// aggregator), matching CountStat.Delta's single-reader contract.
func (c *core) CounterDeltas() CounterSnapshot {
	return CounterSnapshot{
		RequestsSent:      c.Counters.RequestsSent.Delta(),
		RefreshesReceived: c.Counters.RefreshesReceived.Delta(),
		UpdatesSent:       c.Counters.UpdatesSent.Delta(),
		UpdatesReceived:   c.Counters.UpdatesReceived.Delta(),
		PostsSent:         c.Counters.PostsSent.Delta(),
		PostsReceived:     c.Counters.PostsReceived.Delta(),
		GenericsSent:      c.Counters.GenericsSent.Delta(),
		GenericsReceived:  c.Counters.GenericsReceived.Delta(),
		StatusReceived:    c.Counters.StatusReceived.Delta(),
		PingsSent:         c.Counters.PingsSent.Delta(),
		PingsReceived:     c.Counters.PingsReceived.Delta(),
		OutOfBuffers:      c.Counters.OutOfBuffers.Delta(),
		PackedMsgsSent:    c.Counters.PackedMsgsSent.Delta(),
	}
}

// submit writes msg, absorbing would-block as a counted non-error and
// retrying call-again after a flush exactly once per spec.md §4.8
// ("would-block is not an error; call-again retries after flush; any
// other failure is a hard IoTransport error"). sent reports whether msg
// actually left the buffer; callers must not advance a template
// iterator or a Sent counter for a message submit reports as unsent
// (spec.md testable property 7). The rotating-queue cursors
// (Registry.NextPost/NextGeneric, the providers' round-robin cursor)
// have already moved past that record by then and are not moved back.
func (c *core) submit(msg coretransport.Message) (sent bool, err error) {
	res, err := c.Channel.Submit(msg)
	if err != nil {
		return false, c.fail(KindIOTransport, "submit", err)
	}
	switch res {
	case coretransport.SubmitOK:
		return true, nil
	case coretransport.SubmitWouldBlock:
		c.Counters.OutOfBuffers.Inc()
		return false, nil
	case coretransport.SubmitCallAgain:
		if ferr := c.Channel.Flush(); ferr != nil {
			return false, c.fail(KindIOTransport, "flush", ferr)
		}
		res, err = c.Channel.Submit(msg)
		if err != nil {
			return false, c.fail(KindIOTransport, "submit_retry", err)
		}
		if res == coretransport.SubmitWouldBlock {
			c.Counters.OutOfBuffers.Inc()
			return false, nil
		}
		return true, nil
	default:
		return true, nil
	}
}

// countRemainingOutOfBuffers charges n additional unsent burst members
// to the out-of-buffers counter in one shot, matching the original's
// "countStatAdd(..OutOfBuffersCount, itemBurstCount - i); return" break-
// and-count-remainder behavior (original_source Cpp-C/Eta/Applications/
// PerfTools/ConsPerf/consumerThreads.c) instead of retrying submit for
// every remaining burst member once the transport is known to be full.
func (c *core) countRemainingOutOfBuffers(n int) {
	if n > 0 {
		c.Counters.OutOfBuffers.Add(int64(n))
	}
}

// configurePacking sets the packed-submission bounds for a provider
// variant (spec.md §4.12 "numberMsgInPackedMsg"/packBufSize). maxCount
// <= 1 disables packing: streamPackedUpdates then submits every update
// individually, exactly as an unpacked provider always has.
func (c *core) configurePacking(maxCount, bufBytes int) {
	c.packMaxCount = maxCount
	c.packBufBytes = bufBytes
}

// streamPackedUpdates drains up to burst.UpdateCount updates from the
// round-robin streamed-item list shared by ProviderWorker and
// NIProviderWorker, grouping consecutive updates into a single packed
// submit once packMaxCount/packBufBytes is exceeded (spec.md §4.12:
// "the worker accumulates up to that many update messages... into a
// packed buffer before a single submit"). rec.UpdateIterIdx and
// UpdatesSent/PackedMsgsSent are only charged for updates that were
// part of a submit that actually sent (spec.md testable property 7);
// a would-block abandons the rest of the burst for this tick, charging
// the untried remainder to OutOfBuffers in one shot.
func (c *core) streamPackedUpdates(
	streamItems []*itemstate.Record,
	rrCursor int,
	domain itemstate.Domain,
	templates *template.Pool,
	burst scheduler.Burst,
	nowMicros int64,
) (int, error) {
	if len(streamItems) == 0 {
		return rrCursor, nil
	}
	maxCount := c.packMaxCount
	if maxCount < 1 {
		maxCount = 1
	}

	type pending struct {
		rec *itemstate.Record
		it  *template.Iterator
	}
	var batch []pending
	var packed []coretransport.Message
	batchBytes := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		out := packed[0]
		if len(packed) > 1 {
			out = coretransport.Message{Type: coretransport.MsgUpdate, PackedCount: len(packed), Packed: packed}
		}
		sent, err := c.submit(out)
		if err != nil {
			return err
		}
		if !sent {
			c.countRemainingOutOfBuffers(len(batch) - 1)
			batch = nil
			packed = nil
			batchBytes = 0
			return errWouldBlockAbandonBurst
		}
		for _, p := range batch {
			p.rec.UpdateIterIdx = p.it.Index()
		}
		c.Counters.UpdatesSent.Add(int64(len(batch)))
		if len(packed) > 1 {
			c.Counters.PackedMsgsSent.Inc()
		}
		batch = batch[:0]
		packed = packed[:0]
		batchBytes = 0
		return nil
	}

	for i := 0; i < burst.UpdateCount; i++ {
		rec := streamItems[rrCursor%len(streamItems)]
		rrCursor = (rrCursor + 1) % len(streamItems)

		it := template.NewIteratorAt(rec.UpdateIterIdx)
		tmpl, ok := templates.NextUpdate(template.Domain(domain), it)
		if !ok {
			continue
		}
		var start int64
		if i == burst.UpdateLatencySubIdx {
			start = nowMicros
		}
		t1, t2, t3 := stampFields(latencycodec.ClassUpdate, start)
		msg := coretransport.Message{Type: coretransport.MsgUpdate, StreamID: rec.StreamID, TimTrk1: t1, TimTrk2: t2, TimTrk3: t3}

		full := len(batch) >= maxCount || (c.packBufBytes > 0 && len(batch) > 0 && batchBytes+tmpl.EstimatedLength > c.packBufBytes)
		if full {
			if err := flush(); err != nil {
				if err == errWouldBlockAbandonBurst {
					c.countRemainingOutOfBuffers(burst.UpdateCount - i)
					return rrCursor, nil
				}
				return rrCursor, err
			}
		}
		batch = append(batch, pending{rec: rec, it: it})
		packed = append(packed, msg)
		batchBytes += tmpl.EstimatedLength
	}
	if err := flush(); err != nil {
		if err == errWouldBlockAbandonBurst {
			return rrCursor, nil
		}
		return rrCursor, err
	}
	return rrCursor, nil
}

// errWouldBlockAbandonBurst is streamPackedUpdates' internal signal
// that the current tick's remaining updates were abandoned after a
// would-block; it never escapes to a caller.
var errWouldBlockAbandonBurst = errors.New("worker: packed update would block")

// pollTimeout bounds a Poll call to whatever is left of the current
// tick, realizing spec.md §4.10's "bounded select with timeout =
// remaining tick slack". An overrun tick gets the smallest positive
// timeout, since a zero timeout means no deadline to nettransport.Conn.
func (c *core) pollTimeout(tickDeadlineNanos int64) time.Duration {
	remaining := tickDeadlineNanos - c.Clock.NowNanos()
	if remaining <= 0 {
		return time.Nanosecond
	}
	return time.Duration(remaining)
}

// noteInboundTraffic pushes out the ping-timeout deadline; any inbound
// message, not just a ping, counts as liveness.
func (c *core) noteInboundTraffic(nowNanos int64) {
	if c.pingIntervalNanos == 0 {
		return
	}
	c.recvDeadlineNanos = nowNanos + 2*c.pingIntervalNanos
}

// checkPingTimeout fails the worker if no inbound traffic has arrived
// within the timeout window.
func (c *core) checkPingTimeout(nowNanos int64) error {
	if c.pingIntervalNanos == 0 || c.recvDeadlineNanos == 0 {
		return nil
	}
	if nowNanos > c.recvDeadlineNanos {
		return c.fail(KindProtocol, "ping_timeout", ErrPingTimeout)
	}
	return nil
}

// maybeSendPing returns a ping message to submit and true if the send
// interval has elapsed. The caller, not this method, counts PingsSent,
// since whether the ping actually left the buffer is only known once
// submit returns.
func (c *core) maybeSendPing(nowNanos int64) (coretransport.Message, bool) {
	if c.pingIntervalNanos == 0 || nowNanos < c.nextSendPingNanos {
		return coretransport.Message{}, false
	}
	c.nextSendPingNanos = nowNanos + c.pingIntervalNanos
	return coretransport.Message{Type: coretransport.MsgPing}, true
}

// decodeAndRecordLatency inspects every latency-bearing field on an
// inbound message independently (update, post-echo, generic-echo all
// share the same three reserved fields per spec.md §4.7) and records a
// sample for each one present.
func (c *core) decodeAndRecordLatency(msg coretransport.Message) {
	now := c.Clock.NowMicros()
	type probe struct {
		class latencycodec.MessageClass
		value uint64
	}
	for _, p := range []probe{
		{latencycodec.ClassUpdate, msg.TimTrk1},
		{latencycodec.ClassPost, msg.TimTrk2},
		{latencycodec.ClassGeneric, msg.TimTrk3},
	} {
		usec, ok := latencycodec.Decode(p.class, p.value, now)
		if !ok {
			continue
		}
		c.Latencies.Append(latencyqueue.Record{Start: now - usec, End: now, TicksPerUsec: 1, Class: p.class})
	}
}

// stampFields builds the TimTrk triple for an outbound message of the
// given class: a real stamp when this burst slot was selected by the
// random array, blank placeholders otherwise so the field is always
// present on the wire.
func stampFields(class latencycodec.MessageClass, startTimeMicros int64) (t1, t2, t3 uint64) {
	s := latencycodec.Encode(class, startTimeMicros)
	switch s.Field {
	case latencycodec.TimTrk1:
		t1 = s.Value
	case latencycodec.TimTrk2:
		t2 = s.Value
	case latencycodec.TimTrk3:
		t3 = s.Value
	}
	return
}
