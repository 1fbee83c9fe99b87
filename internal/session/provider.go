package session

import "github.com/bc-dunia/marketperf/internal/coretransport"

// Provider drives the interactive provider's inverted state machine
// (spec.md §4.9 "Provider variant"): it accepts connections, responds
// to login with the application name and configured supports-post flag,
// responds to directory requests with a single-service map, and from
// then on serves item requests via the per-connection worker's
// refresh-items dual-list.
type Provider struct {
	base

	applicationName string
	supportsPost    bool
	serviceName     string
}

// NewProvider creates a Provider ready to accept one connection.
func NewProvider(applicationName, serviceName string, supportsPost bool) *Provider {
	return &Provider{applicationName: applicationName, serviceName: serviceName, supportsPost: supportsPost}
}

// OnChannelUp transitions CONNECTING -> CHANNEL_UP on accept.
func (p *Provider) OnChannelUp() error {
	return p.transition("channel_up", StateConnecting, StateChannelUp)
}

// OnLoginRequest transitions CHANNEL_UP -> LOGIN_OK and returns the
// login refresh response.
func (p *Provider) OnLoginRequest(req coretransport.Message) (coretransport.Message, error) {
	if err := p.transition("login", StateChannelUp, StateLoginOK); err != nil {
		return coretransport.Message{}, err
	}
	return coretransport.Message{
		Type:            coretransport.MsgLoginRefresh,
		ApplicationName: p.applicationName,
		SupportsPost:    p.supportsPost,
	}, nil
}

// OnDirectoryRequest transitions LOGIN_OK -> SERVICE_UP and returns a
// single-service directory map.
func (p *Provider) OnDirectoryRequest(req coretransport.Message) (coretransport.Message, error) {
	if err := p.transition("directory", StateLoginOK, StateServiceUp); err != nil {
		return coretransport.Message{}, err
	}
	return coretransport.Message{
		Type: coretransport.MsgDirectoryRefresh,
		Services: []coretransport.ServiceInfo{
			{Name: p.serviceName, State: "up", AcceptingRequests: true},
		},
	}, nil
}

// EnterSteadyState transitions SERVICE_UP -> STEADY_STATE once the
// provider has sent at least one refresh (mirrors the consumer's
// image_retrieval_end boundary, applied from the serving side).
func (p *Provider) EnterSteadyState() error {
	return p.transition("steady_state", StateServiceUp, StateSteadyState)
}
