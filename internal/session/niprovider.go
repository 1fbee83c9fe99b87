package session

import "github.com/bc-dunia/marketperf/internal/coretransport"

// NIProvider drives the non-interactive provider's simplified state
// machine (spec.md §4.9): it opens a login stream, pushes a one-service
// directory refresh unsolicited, then proceeds straight into per-tick
// update bursts for all items without ever waiting on a subscriber.
type NIProvider struct {
	base

	username        string
	applicationName string
	serviceName     string
}

// NewNIProvider creates an NIProvider.
func NewNIProvider(username, applicationName, serviceName string) *NIProvider {
	return &NIProvider{username: username, applicationName: applicationName, serviceName: serviceName}
}

// OnChannelUp transitions CONNECTING -> CHANNEL_UP.
func (n *NIProvider) OnChannelUp() error {
	return n.transition("channel_up", StateConnecting, StateChannelUp)
}

// BuildLoginRequest transitions CHANNEL_UP -> LOGIN_SENT.
func (n *NIProvider) BuildLoginRequest() (coretransport.Message, error) {
	if err := n.transition("login_request", StateChannelUp, StateLoginSent); err != nil {
		return coretransport.Message{}, err
	}
	return coretransport.Message{
		Type:            coretransport.MsgLogin,
		Username:        n.username,
		ApplicationName: n.applicationName,
	}, nil
}

// OnLoginResponse transitions LOGIN_SENT -> LOGIN_OK.
func (n *NIProvider) OnLoginResponse(msg coretransport.Message) error {
	if msg.StreamState.IsFinal() {
		return n.Fail(&Error{Op: "login_response", State: StateLoginSent, Err: ErrUnexpectedState})
	}
	return n.transition("login_response", StateLoginSent, StateLoginOK)
}

// PushDirectoryRefresh transitions LOGIN_OK -> SERVICE_UP and returns
// the one-service directory refresh to push unsolicited.
func (n *NIProvider) PushDirectoryRefresh() (coretransport.Message, error) {
	if err := n.transition("directory_refresh", StateLoginOK, StateServiceUp); err != nil {
		return coretransport.Message{}, err
	}
	return coretransport.Message{
		Type: coretransport.MsgDirectoryRefresh,
		Services: []coretransport.ServiceInfo{
			{Name: n.serviceName, State: "up", AcceptingRequests: true},
		},
	}, nil
}

// EnterSteadyState transitions SERVICE_UP -> STEADY_STATE; a
// non-interactive provider has no refresh-retrieval epoch of its own, so
// the worker calls this immediately after priming its items to
// HAS_REFRESH, before any update burst.
func (n *NIProvider) EnterSteadyState() error {
	return n.transition("steady_state", StateServiceUp, StateSteadyState)
}
