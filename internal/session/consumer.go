package session

import (
	"github.com/bc-dunia/marketperf/internal/coretransport"
)

// Consumer drives the forward login -> directory -> dictionary -> items
// -> steady-state progression of spec.md §4.9.
type Consumer struct {
	base

	serviceName        string
	postingEnabled      bool
	haveLocalDictionary bool
	haveField           bool
	haveEnum            bool

	service *ServiceInfo
}

// NewConsumer creates a Consumer state machine. If haveLocalDictionary
// is true, the dictionary phase is skipped entirely (spec.md §4.9:
// "if a local dictionary file loaded successfully at startup, skip").
func NewConsumer(serviceName string, postingEnabled, haveLocalDictionary bool) *Consumer {
	return &Consumer{
		serviceName:         serviceName,
		postingEnabled:      postingEnabled,
		haveLocalDictionary: haveLocalDictionary,
	}
}

// OnChannelUp transitions CONNECTING -> CHANNEL_UP on transport handshake
// completion.
func (c *Consumer) OnChannelUp() error {
	return c.transition("channel_up", StateConnecting, StateChannelUp)
}

// BuildLoginRequest transitions CHANNEL_UP -> LOGIN_SENT and returns the
// login request message to submit.
func (c *Consumer) BuildLoginRequest(username, applicationName string) (coretransport.Message, error) {
	if err := c.transition("login_request", StateChannelUp, StateLoginSent); err != nil {
		return coretransport.Message{}, err
	}
	return coretransport.Message{
		Type:            coretransport.MsgLogin,
		Username:        username,
		ApplicationName: applicationName,
		SupportsPost:    c.postingEnabled,
	}, nil
}

// OnLoginResponse transitions LOGIN_SENT -> LOGIN_OK. If posting was
// requested and the response lacks supports-post, the session FAILS
// (spec.md §4.9).
func (c *Consumer) OnLoginResponse(msg coretransport.Message) error {
	if msg.StreamState.IsFinal() {
		return c.Fail(&Error{Op: "login_response", State: StateLoginSent, Err: ErrUnexpectedState})
	}
	if c.postingEnabled && !msg.SupportsPost {
		return c.Fail(&Error{Op: "login_response", State: StateLoginSent, Err: ErrLoginRejected})
	}
	return c.transition("login_response", StateLoginSent, StateLoginOK)
}

// BuildDirectoryRequest transitions LOGIN_OK -> DIRECTORY_REQUESTED.
func (c *Consumer) BuildDirectoryRequest() (coretransport.Message, error) {
	if err := c.transition("directory_request", StateLoginOK, StateDirectoryRequested); err != nil {
		return coretransport.Message{}, err
	}
	return coretransport.Message{Type: coretransport.MsgDirectoryRequest}, nil
}

// OnDirectoryResponse scans msg.Services for the configured service
// name; when found up and accepting, it deep-copies the entry and
// transitions DIRECTORY_REQUESTED -> DIRECTORY_RECEIVED.
func (c *Consumer) OnDirectoryResponse(msg coretransport.Message) error {
	var found *ServiceInfo
	for _, svc := range msg.Services {
		if svc.Name != c.serviceName {
			continue
		}
		if svc.State == "up" && svc.AcceptingRequests {
			cp := ServiceInfo{Name: svc.Name, State: svc.State, AcceptingRequests: svc.AcceptingRequests}
			found = &cp
		}
	}
	if found == nil {
		return c.Fail(&Error{Op: "directory_response", State: StateDirectoryRequested, Err: ErrServiceNotFound})
	}
	if err := c.transition("directory_response", StateDirectoryRequested, StateDirectoryReceived); err != nil {
		return err
	}
	c.mu.Lock()
	c.service = found
	c.mu.Unlock()
	return nil
}

// Service returns the cached directory entry, or nil if not yet received.
func (c *Consumer) Service() *ServiceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.service
}

// NeedsDictionary reports whether the dictionary request/response phase
// must run.
func (c *Consumer) NeedsDictionary() bool {
	return !c.haveLocalDictionary
}

// BuildDictionaryRequests transitions DIRECTORY_RECEIVED ->
// DICTIONARIES_NEEDED and returns the two fixed-stream-id requests.
func (c *Consumer) BuildDictionaryRequests() ([]coretransport.Message, error) {
	if err := c.transition("dictionary_request", StateDirectoryReceived, StateDictionariesNeeded); err != nil {
		return nil, err
	}
	return []coretransport.Message{
		{Type: coretransport.MsgDictionaryRequest, StreamID: DictionaryFieldStreamID, DictionaryName: "RWFFld"},
		{Type: coretransport.MsgDictionaryRequest, StreamID: DictionaryEnumStreamID, DictionaryName: "RWFEnum"},
	}, nil
}

// OnDictionaryResponse decodes one dictionary refresh part. When
// Complete is set for RWFFld/RWFEnum, the matching bit is latched; once
// both are set, the session transitions to DICTIONARIES_RECEIVED and
// then immediately to SERVICE_UP (spec.md §4.9: "SERVICE_UP requires
// both bits set").
func (c *Consumer) OnDictionaryResponse(msg coretransport.Message) error {
	if msg.StreamState.IsFinal() {
		return c.Fail(&Error{Op: "dictionary_response", State: c.State(), Err: ErrUnexpectedState})
	}
	if !msg.Complete {
		return nil
	}
	c.mu.Lock()
	switch msg.DictionaryName {
	case "RWFFld":
		c.haveField = true
	case "RWFEnum":
		c.haveEnum = true
	}
	ready := c.haveField && c.haveEnum
	c.mu.Unlock()

	if !ready {
		return nil
	}
	if err := c.transition("dictionaries_received", StateDictionariesNeeded, StateDictionariesReceived); err != nil {
		return err
	}
	return c.transition("service_up", StateDictionariesReceived, StateServiceUp)
}

// EnterServiceUpDirect transitions DIRECTORY_RECEIVED -> SERVICE_UP
// directly, used when NeedsDictionary is false.
func (c *Consumer) EnterServiceUpDirect() error {
	return c.transition("service_up", StateDirectoryReceived, StateServiceUp)
}

// EnterSteadyState transitions SERVICE_UP -> STEADY_STATE once
// image_retrieval_end has been set (spec.md §3, §4.9).
func (c *Consumer) EnterSteadyState() error {
	return c.transition("steady_state", StateServiceUp, StateSteadyState)
}
