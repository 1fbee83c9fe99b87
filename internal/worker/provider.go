package worker

import (
	"github.com/bc-dunia/marketperf/internal/clock"
	"github.com/bc-dunia/marketperf/internal/control"
	"github.com/bc-dunia/marketperf/internal/coretransport"
	"github.com/bc-dunia/marketperf/internal/itemstate"
	"github.com/bc-dunia/marketperf/internal/scheduler"
	"github.com/bc-dunia/marketperf/internal/session"
	"github.com/bc-dunia/marketperf/internal/template"
)

// ProviderWorker drives one interactive-provider connection (spec.md
// §4.9 provider variant): accept the handshake, register inbound item
// requests as they arrive, answer each with a refresh, reflect inbound
// posts as updates, echo inbound generic messages, and stream periodic
// updates to every accepted item (spec.md §4.12). Generic messages are
// not sent on a schedule; the echoes are the only generics it sends.
//
// Item registration relies on the paired consumer issuing item-request
// stream ids sequentially from the same starting value the provider's
// Registry was built with (both sides count up together over one
// channel), so AddToRequestQueue's local sequential allocation lands on
// the same ids the wire actually carries.
type ProviderWorker struct {
	*core

	Session   *session.Provider
	Items     *itemstate.Registry
	Templates *template.Pool
	Scheduler *scheduler.Scheduler
	Domain    itemstate.Domain

	streamItems []*itemstate.Record
	rrCursor    int
}

// NewProviderWorker builds a ProviderWorker.
func NewProviderWorker(
	id int,
	ch coretransport.Channel,
	clk *clock.Source,
	sd *control.Shutdown,
	ticksPerSec, pingIntervalSec int,
	sess *session.Provider,
	items *itemstate.Registry,
	templates *template.Pool,
	sched *scheduler.Scheduler,
	domain itemstate.Domain,
	maxPackCount, packBufSize int,
) *ProviderWorker {
	w := &ProviderWorker{
		core:      newCore(id, ch, clk, ticksPerSec, pingIntervalSec, sd),
		Session:   sess,
		Items:     items,
		Templates: templates,
		Scheduler: sched,
		Domain:    domain,
	}
	w.configurePacking(maxPackCount, packBufSize)
	return w
}

func (w *ProviderWorker) pollFor() (coretransport.Message, error) {
	msg, ok, err := w.Channel.Poll(0)
	if err != nil {
		return coretransport.Message{}, w.fail(KindIOTransport, "poll", err)
	}
	if !ok {
		return coretransport.Message{}, w.fail(KindIOTransport, "poll", ErrPingTimeout)
	}
	return msg, nil
}

// Accept runs the CONNECTING -> SERVICE_UP handshake from the serving
// side: wait for login, answer it, wait for directory request, answer
// it.
func (w *ProviderWorker) Accept() error {
	if err := w.Session.OnChannelUp(); err != nil {
		return w.fail(KindProtocol, "channel_up", err)
	}
	loginReq, err := w.pollFor()
	if err != nil {
		return err
	}
	loginResp, err := w.Session.OnLoginRequest(loginReq)
	if err != nil {
		return w.fail(KindProtocol, "login_request", err)
	}
	if err := w.submitHandshake(loginResp); err != nil {
		return err
	}
	dirReq, err := w.pollFor()
	if err != nil {
		return err
	}
	dirResp, err := w.Session.OnDirectoryRequest(dirReq)
	if err != nil {
		return w.fail(KindProtocol, "directory_request", err)
	}
	return w.submitHandshake(dirResp)
}

// Tick runs one iteration of the provider loop: dispatch exactly one
// inbound message (new item requests, posts, generics), stream this
// tick's update burst, and service the ping timer.
func (w *ProviderWorker) Tick(tickIndex int, tickDeadlineNanos int64) error {
	msg, ok, err := w.Channel.Poll(w.pollTimeout(tickDeadlineNanos))
	if err != nil {
		return w.fail(KindIOTransport, "poll", err)
	}
	if ok {
		w.noteInboundTraffic(w.Clock.NowNanos())
		if err := w.dispatch(msg); err != nil {
			return err
		}
	}

	burst := w.Scheduler.Tick(tickIndex)
	now := w.Clock.NowMicros()

	rrCursor, err := w.streamPackedUpdates(w.streamItems, w.rrCursor, w.Domain, w.Templates, burst, now)
	if err != nil {
		return err
	}
	w.rrCursor = rrCursor

	if pingMsg, due := w.maybeSendPing(w.Clock.NowNanos()); due {
		sent, err := w.submit(pingMsg)
		if err != nil {
			return err
		}
		if sent {
			w.Counters.PingsSent.Inc()
		}
	}
	if err := w.MaybeEnterSteadyState(); err != nil {
		return w.fail(KindProtocol, "steady_state", err)
	}
	return w.checkPingTimeout(w.Clock.NowNanos())
}

// SessionState reports this connection's current session state, used
// by the stats aggregator to detect the global steady-state transition
// (spec.md §4.11 step 5).
func (w *ProviderWorker) SessionState() session.State {
	return w.Session.State()
}

// ImageRetrievalReached reports whether this provider has answered at
// least one item request, the serving-side analogue of the consumer's
// image_retrieval_end (spec.md §4.11 step 5; session.Provider.EnterSteadyState
// doc comment).
func (w *ProviderWorker) ImageRetrievalReached() bool {
	return len(w.streamItems) > 0 || w.Items.CountInRefreshComplete() > 0
}

// MaybeEnterSteadyState transitions the session once this provider has
// sent at least one refresh.
func (w *ProviderWorker) MaybeEnterSteadyState() error {
	if w.Session.State() != session.StateServiceUp {
		return nil
	}
	if !w.ImageRetrievalReached() {
		return nil
	}
	return w.Session.EnterSteadyState()
}

func (w *ProviderWorker) dispatch(msg coretransport.Message) error {
	switch msg.Type {
	case coretransport.MsgPing, coretransport.MsgAck:
		w.Counters.PingsReceived.Inc()
		return nil
	case coretransport.MsgItemRequest:
		rec := w.Items.AddToRequestQueue(msg.ItemName, itemstate.Domain(msg.DomainName), false, false, msg.Snapshot)
		if err := w.Items.MoveToAwaitingRefresh(rec); err != nil {
			return w.fail(KindProtocol, "move_awaiting_refresh", err)
		}
		refresh := coretransport.Message{Type: coretransport.MsgRefresh, StreamID: rec.StreamID, Complete: true}
		sent, err := w.submit(refresh)
		if err != nil {
			return err
		}
		if !sent {
			// Would-block: the item stays WAITING_FOR_REFRESH and the
			// refresh is not consumed from any iterator, matching the
			// would-block contract (spec.md testable property 7).
			return nil
		}
		if err := w.Items.MoveToRefreshComplete(rec); err != nil {
			return w.fail(KindProtocol, "refresh_complete", err)
		}
		if !msg.Snapshot {
			w.streamItems = append(w.streamItems, rec)
		}
		return nil
	case coretransport.MsgPost:
		w.Counters.PostsReceived.Inc()
		reflected := coretransport.Message{
			Type:        coretransport.MsgUpdate,
			StreamID:    msg.StreamID,
			DomainName:  msg.DomainName,
			PublisherID: msg.PublisherID,
			TimTrk1:     msg.TimTrk1,
			TimTrk2:     msg.TimTrk2,
			TimTrk3:     msg.TimTrk3,
		}
		sent, err := w.submit(reflected)
		if err != nil {
			return err
		}
		if sent {
			w.Counters.UpdatesSent.Inc()
		}
		return nil
	case coretransport.MsgGeneric:
		w.Counters.GenericsReceived.Inc()
		ack := coretransport.Message{Type: coretransport.MsgGeneric, StreamID: msg.StreamID, TimTrk1: msg.TimTrk1, TimTrk2: msg.TimTrk2, TimTrk3: msg.TimTrk3}
		sent, err := w.submit(ack)
		if err != nil {
			return err
		}
		if sent {
			w.Counters.GenericsSent.Inc()
		}
		return nil
	default:
		return nil
	}
}
