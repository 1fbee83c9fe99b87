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

// NIProviderWorker drives one non-interactive provider connection
// (spec.md §4.9 NI-provider variant): log in, push an unsolicited
// directory refresh, prime every configured item straight to
// HAS_REFRESH, then stream update bursts forever without ever waiting
// on a subscriber's item requests.
type NIProviderWorker struct {
	*core

	Session   *session.NIProvider
	Items     *itemstate.Registry
	Templates *template.Pool
	Scheduler *scheduler.Scheduler
	Domain    itemstate.Domain

	streamItems []*itemstate.Record
	rrCursor    int

	username, applicationName string
}

// NewNIProviderWorker builds an NIProviderWorker.
func NewNIProviderWorker(
	id int,
	ch coretransport.Channel,
	clk *clock.Source,
	sd *control.Shutdown,
	ticksPerSec, pingIntervalSec int,
	sess *session.NIProvider,
	items *itemstate.Registry,
	templates *template.Pool,
	sched *scheduler.Scheduler,
	domain itemstate.Domain,
	username, applicationName string,
	maxPackCount, packBufSize int,
) *NIProviderWorker {
	w := &NIProviderWorker{
		core:            newCore(id, ch, clk, ticksPerSec, pingIntervalSec, sd),
		Session:         sess,
		Items:           items,
		Templates:       templates,
		Scheduler:       sched,
		Domain:          domain,
		username:        username,
		applicationName: applicationName,
	}
	w.configurePacking(maxPackCount, packBufSize)
	return w
}

func (w *NIProviderWorker) pollFor() (coretransport.Message, error) {
	msg, ok, err := w.Channel.Poll(0)
	if err != nil {
		return coretransport.Message{}, w.fail(KindIOTransport, "poll", err)
	}
	if !ok {
		return coretransport.Message{}, w.fail(KindIOTransport, "poll", ErrPingTimeout)
	}
	return msg, nil
}

// Connect runs login and the unsolicited directory push.
func (w *NIProviderWorker) Connect() error {
	if err := w.Session.OnChannelUp(); err != nil {
		return w.fail(KindProtocol, "channel_up", err)
	}
	loginReq, err := w.Session.BuildLoginRequest()
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
	dirMsg, err := w.Session.PushDirectoryRefresh()
	if err != nil {
		return w.fail(KindProtocol, "directory_refresh", err)
	}
	return w.submitHandshake(dirMsg)
}

// PrimeItems registers every configured item straight to HAS_REFRESH
// and readies it for the update rotation; an NI-provider never fields
// interactive requests so there is no awaiting-refresh interval.
func (w *NIProviderWorker) PrimeItems(names []string) error {
	for _, name := range names {
		rec := w.Items.AddToRequestQueue(name, w.Domain, false, false, false)
		if err := w.Items.MoveToAwaitingRefresh(rec); err != nil {
			return w.fail(KindProtocol, "prime_awaiting_refresh", err)
		}
		if err := w.Items.MoveToRefreshComplete(rec); err != nil {
			return w.fail(KindProtocol, "prime_refresh_complete", err)
		}
		w.streamItems = append(w.streamItems, rec)
	}
	return w.Session.EnterSteadyState()
}

// SessionState reports this connection's current session state, used
// by the stats aggregator to detect the global steady-state transition
// (spec.md §4.11 step 5).
func (w *NIProviderWorker) SessionState() session.State {
	return w.Session.State()
}

// Tick streams this tick's update burst across the primed item
// rotation and services the ping timer. An NI-provider still polls so
// it notices the far end's pings and a closed channel.
func (w *NIProviderWorker) Tick(tickIndex int, tickDeadlineNanos int64) error {
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

	msg, ok, err := w.Channel.Poll(w.pollTimeout(tickDeadlineNanos))
	if err != nil {
		return w.fail(KindIOTransport, "poll", err)
	}
	if ok && (msg.Type == coretransport.MsgPing || msg.Type == coretransport.MsgAck) {
		w.Counters.PingsReceived.Inc()
	}
	if ok {
		w.noteInboundTraffic(w.Clock.NowNanos())
	}
	return w.checkPingTimeout(w.Clock.NowNanos())
}
