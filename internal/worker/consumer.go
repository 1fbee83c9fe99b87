package worker

import (
	"github.com/bc-dunia/marketperf/internal/clock"
	"github.com/bc-dunia/marketperf/internal/control"
	"github.com/bc-dunia/marketperf/internal/coretransport"
	"github.com/bc-dunia/marketperf/internal/itemstate"
	"github.com/bc-dunia/marketperf/internal/latencycodec"
	"github.com/bc-dunia/marketperf/internal/scheduler"
	"github.com/bc-dunia/marketperf/internal/session"
	"github.com/bc-dunia/marketperf/internal/template"
)

// ConsumerWorker drives one consumer connection end to end: handshake,
// item requests, post/generic bursts, and inbound refresh/update
// dispatch (spec.md §4.9 consumer variant, §4.13 tick loop).
type ConsumerWorker struct {
	*core

	Session   *session.Consumer
	Items     *itemstate.Registry
	Templates *template.Pool
	Scheduler *scheduler.Scheduler
	Domain    itemstate.Domain

	username        string
	applicationName string
}

// NewConsumerWorker builds a ConsumerWorker. domain selects which
// template set item requests/updates/posts/generics use.
func NewConsumerWorker(
	id int,
	ch coretransport.Channel,
	clk *clock.Source,
	sd *control.Shutdown,
	ticksPerSec, pingIntervalSec int,
	sess *session.Consumer,
	items *itemstate.Registry,
	templates *template.Pool,
	sched *scheduler.Scheduler,
	domain itemstate.Domain,
	username, applicationName string,
) *ConsumerWorker {
	return &ConsumerWorker{
		core:            newCore(id, ch, clk, ticksPerSec, pingIntervalSec, sd),
		Session:         sess,
		Items:           items,
		Templates:       templates,
		Scheduler:       sched,
		Domain:          domain,
		username:        username,
		applicationName: applicationName,
	}
}

// Connect runs the CONNECTING -> SERVICE_UP handshake: login, directory,
// and (if needed) the dictionary fallback of scenario S6.
func (w *ConsumerWorker) Connect() error {
	if err := w.Session.OnChannelUp(); err != nil {
		return w.fail(KindProtocol, "channel_up", err)
	}

	loginReq, err := w.Session.BuildLoginRequest(w.username, w.applicationName)
	if err != nil {
		return w.fail(KindProtocol, "build_login", err)
	}
	if err := w.submitHandshake(loginReq); err != nil {
		return err
	}
	loginResp, err := w.pollFor()
	if err != nil {
		return err
	}
	if err := w.Session.OnLoginResponse(loginResp); err != nil {
		return w.fail(KindProtocol, "login_response", err)
	}

	dirReq, err := w.Session.BuildDirectoryRequest()
	if err != nil {
		return w.fail(KindProtocol, "build_directory", err)
	}
	if err := w.submitHandshake(dirReq); err != nil {
		return err
	}
	dirResp, err := w.pollFor()
	if err != nil {
		return err
	}
	if err := w.Session.OnDirectoryResponse(dirResp); err != nil {
		return w.fail(KindProtocol, "directory_response", err)
	}

	if !w.Session.NeedsDictionary() {
		if err := w.Session.EnterServiceUpDirect(); err != nil {
			return w.fail(KindProtocol, "service_up", err)
		}
		return nil
	}

	reqs, err := w.Session.BuildDictionaryRequests()
	if err != nil {
		return w.fail(KindProtocol, "build_dictionary", err)
	}
	for _, r := range reqs {
		if err := w.submitHandshake(r); err != nil {
			return err
		}
	}
	for w.Session.State() != session.StateServiceUp {
		msg, err := w.pollFor()
		if err != nil {
			return err
		}
		if err := w.Session.OnDictionaryResponse(msg); err != nil {
			return w.fail(KindProtocol, "dictionary_response", err)
		}
	}
	return nil
}

// pollFor blocks (with no deadline beyond the channel's own timeout
// semantics) for exactly one inbound message, used only during the
// handshake before the tick loop begins.
func (w *ConsumerWorker) pollFor() (coretransport.Message, error) {
	msg, ok, err := w.Channel.Poll(0)
	if err != nil {
		return coretransport.Message{}, w.fail(KindIOTransport, "poll", err)
	}
	if !ok {
		return coretransport.Message{}, w.fail(KindIOTransport, "poll", ErrPingTimeout)
	}
	return msg, nil
}

// Tick runs one iteration of the steady-state/warmup loop: send any
// request/post/generic burst this tick calls for, drain one inbound
// message bounded by the remaining tick slack, and service the ping
// timer. tickDeadlineNanos is the monotonic deadline for this tick.
func (w *ConsumerWorker) Tick(tickIndex int, tickDeadlineNanos int64) error {
	burst := w.Scheduler.Tick(tickIndex)
	now := w.Clock.NowMicros()

	for i := 0; i < burst.RequestCount; i++ {
		rec, ok := w.Items.PopFromRequestQueue()
		if !ok {
			break
		}
		if err := w.Items.MoveToAwaitingRefresh(rec); err != nil {
			return w.fail(KindProtocol, "move_awaiting_refresh", err)
		}
		msg := coretransport.Message{
			Type:       coretransport.MsgItemRequest,
			StreamID:   rec.StreamID,
			DomainName: string(w.Domain),
			ItemName:   rec.Name,
		}
		sent, err := w.submit(msg)
		if err != nil {
			return err
		}
		if !sent {
			w.countRemainingOutOfBuffers(burst.RequestCount - i - 1)
			break
		}
		w.Counters.RequestsSent.Inc()
	}

	for i := 0; i < burst.PostCount; i++ {
		rec, ok := w.Items.NextPost()
		if !ok {
			break
		}
		it := template.NewIteratorAt(rec.PostIterIdx)
		_, ok = w.Templates.NextPost(template.Domain(w.Domain), it)
		if !ok {
			continue
		}
		var start int64
		if i == burst.PostLatencySubIdx {
			start = now
		}
		t1, t2, t3 := stampFields(latencycodec.ClassPost, start)
		msg := coretransport.Message{
			Type:     coretransport.MsgPost,
			StreamID: rec.StreamID,
			TimTrk1:  t1,
			TimTrk2:  t2,
			TimTrk3:  t3,
		}
		sent, err := w.submit(msg)
		if err != nil {
			return err
		}
		if !sent {
			w.countRemainingOutOfBuffers(burst.PostCount - i - 1)
			break
		}
		rec.PostIterIdx = it.Index()
		w.Counters.PostsSent.Inc()
	}

	for i := 0; i < burst.GenericCount; i++ {
		rec, ok := w.Items.NextGeneric()
		if !ok {
			break
		}
		it := template.NewIteratorAt(rec.GenIterIdx)
		_, ok = w.Templates.NextGeneric(template.Domain(w.Domain), it)
		if !ok {
			continue
		}
		var start int64
		if i == burst.GenericLatencySubIdx {
			start = now
		}
		t1, t2, t3 := stampFields(latencycodec.ClassGeneric, start)
		msg := coretransport.Message{Type: coretransport.MsgGeneric, StreamID: rec.StreamID, TimTrk1: t1, TimTrk2: t2, TimTrk3: t3}
		sent, err := w.submit(msg)
		if err != nil {
			return err
		}
		if !sent {
			w.countRemainingOutOfBuffers(burst.GenericCount - i - 1)
			break
		}
		rec.GenIterIdx = it.Index()
		w.Counters.GenericsSent.Inc()
	}

	if pingMsg, due := w.maybeSendPing(w.Clock.NowNanos()); due {
		sent, err := w.submit(pingMsg)
		if err != nil {
			return err
		}
		if sent {
			w.Counters.PingsSent.Inc()
		}
	}

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
	return w.checkPingTimeout(w.Clock.NowNanos())
}

func (w *ConsumerWorker) dispatch(msg coretransport.Message) error {
	switch msg.Type {
	case coretransport.MsgPing, coretransport.MsgAck:
		w.Counters.PingsReceived.Inc()
		return nil
	case coretransport.MsgStatus:
		w.Counters.StatusReceived.Inc()
		if msg.StreamState.IsFinal() {
			rec, ok := w.Items.Resolve(msg.StreamID)
			if ok {
				return w.fail(KindProtocol, "item_status", w.Items.FailUnexpectedClose(rec))
			}
		}
		return nil
	case coretransport.MsgRefresh:
		w.Counters.RefreshesReceived.Inc()
		rec, ok := w.Items.Resolve(msg.StreamID)
		if !ok {
			return nil
		}
		if msg.Complete {
			if err := w.Items.MoveToRefreshComplete(rec); err != nil {
				return w.fail(KindProtocol, "refresh_complete", err)
			}
		}
		w.decodeAndRecordLatency(msg)
		return nil
	case coretransport.MsgUpdate:
		w.Counters.UpdatesReceived.Inc()
		w.decodeAndRecordLatency(msg)
		return nil
	case coretransport.MsgGeneric:
		w.Counters.GenericsReceived.Inc()
		w.decodeAndRecordLatency(msg)
		return nil
	default:
		return nil
	}
}

// MaybeEnterSteadyState transitions the session once every initially
// requested item has reached HAS_REFRESH (spec.md §3
// "image_retrieval_end").
func (w *ConsumerWorker) MaybeEnterSteadyState(totalRequested int) error {
	if !w.ImageRetrievalReached(totalRequested) {
		return nil
	}
	if w.Session.State() != session.StateServiceUp {
		return nil
	}
	return w.Session.EnterSteadyState()
}

// SessionState reports this connection's current session state, used
// by the stats aggregator to detect the global steady-state transition
// (spec.md §4.11 step 5).
func (w *ConsumerWorker) SessionState() session.State {
	return w.Session.State()
}

// ImageRetrievalReached reports whether this connection has no items
// to request or has already received all of them, satisfying its half
// of spec.md §4.11 step 5's "every worker has image_retrieval_end set
// (or no items)".
func (w *ConsumerWorker) ImageRetrievalReached(totalRequested int) bool {
	return totalRequested == 0 || w.Items.CountInRefreshComplete() >= totalRequested
}
