package session

import (
	"testing"

	"github.com/bc-dunia/marketperf/internal/coretransport"
)

func TestConsumerHappyPathNoDictionary(t *testing.T) {
	c := NewConsumer("DIRECT_FEED", false, true)
	if err := c.OnChannelUp(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.BuildLoginRequest("user", "app"); err != nil {
		t.Fatal(err)
	}
	if err := c.OnLoginResponse(coretransport.Message{}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.BuildDirectoryRequest(); err != nil {
		t.Fatal(err)
	}
	resp := coretransport.Message{Services: []coretransport.ServiceInfo{
		{Name: "DIRECT_FEED", State: "up", AcceptingRequests: true},
	}}
	if err := c.OnDirectoryResponse(resp); err != nil {
		t.Fatal(err)
	}
	if c.NeedsDictionary() {
		t.Fatal("should not need dictionary when preloaded")
	}
	if err := c.EnterServiceUpDirect(); err != nil {
		t.Fatal(err)
	}
	if err := c.EnterSteadyState(); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateSteadyState {
		t.Fatalf("state = %v, want STEADY_STATE", c.State())
	}
}

// TestDictionaryFallback exercises scenario S6: worker requests RWFFld
// and RWFEnum on fixed stream ids, receives refreshes across multiple
// parts, and only reaches SERVICE_UP after both complete flags are set.
func TestDictionaryFallback(t *testing.T) {
	c := NewConsumer("DIRECT_FEED", false, false)
	c.OnChannelUp()
	c.BuildLoginRequest("user", "app")
	c.OnLoginResponse(coretransport.Message{})
	c.BuildDirectoryRequest()
	c.OnDirectoryResponse(coretransport.Message{Services: []coretransport.ServiceInfo{
		{Name: "DIRECT_FEED", State: "up", AcceptingRequests: true},
	}})

	if !c.NeedsDictionary() {
		t.Fatal("expected dictionary phase required")
	}
	reqs, err := c.BuildDictionaryRequests()
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 2 || reqs[0].StreamID != DictionaryFieldStreamID || reqs[1].StreamID != DictionaryEnumStreamID {
		t.Fatalf("unexpected dictionary requests: %+v", reqs)
	}

	// Field dictionary arrives across two parts; only the final part sets Complete.
	if err := c.OnDictionaryResponse(coretransport.Message{DictionaryName: "RWFFld", Complete: false}); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateDictionariesNeeded {
		t.Fatalf("premature state change: %v", c.State())
	}
	if err := c.OnDictionaryResponse(coretransport.Message{DictionaryName: "RWFFld", Complete: true}); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateDictionariesNeeded {
		t.Fatalf("should still be waiting on enum dictionary, got %v", c.State())
	}
	if err := c.OnDictionaryResponse(coretransport.Message{DictionaryName: "RWFEnum", Complete: true}); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateServiceUp {
		t.Fatalf("state = %v, want SERVICE_UP after both dictionaries complete", c.State())
	}
}

func TestLoginRejectedWhenPostingUnsupported(t *testing.T) {
	c := NewConsumer("SVC", true, true)
	c.OnChannelUp()
	c.BuildLoginRequest("u", "a")
	err := c.OnLoginResponse(coretransport.Message{SupportsPost: false})
	if err == nil {
		t.Fatal("expected login rejection error")
	}
	if c.State() != StateFailed {
		t.Fatalf("state = %v, want FAILED", c.State())
	}
}

func TestServiceNotFoundFails(t *testing.T) {
	c := NewConsumer("SVC", false, true)
	c.OnChannelUp()
	c.BuildLoginRequest("u", "a")
	c.OnLoginResponse(coretransport.Message{})
	c.BuildDirectoryRequest()
	err := c.OnDirectoryResponse(coretransport.Message{Services: []coretransport.ServiceInfo{
		{Name: "OTHER", State: "up", AcceptingRequests: true},
	}})
	if err == nil {
		t.Fatal("expected service-not-found error")
	}
	if c.State() != StateFailed {
		t.Fatalf("state = %v, want FAILED", c.State())
	}
}

func TestTransitionOutOfOrderFails(t *testing.T) {
	c := NewConsumer("SVC", false, true)
	if _, err := c.BuildLoginRequest("u", "a"); err == nil {
		t.Fatal("expected error building login before channel up")
	}
}

func TestProviderHappyPath(t *testing.T) {
	p := NewProvider("perfProvider", "PROV_SVC", true)
	if err := p.OnChannelUp(); err != nil {
		t.Fatal(err)
	}
	resp, err := p.OnLoginRequest(coretransport.Message{})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.SupportsPost {
		t.Fatal("expected supports-post in login response")
	}
	dirResp, err := p.OnDirectoryRequest(coretransport.Message{})
	if err != nil {
		t.Fatal(err)
	}
	if len(dirResp.Services) != 1 || dirResp.Services[0].Name != "PROV_SVC" {
		t.Fatalf("unexpected directory response: %+v", dirResp)
	}
	if err := p.EnterSteadyState(); err != nil {
		t.Fatal(err)
	}
}

func TestNIProviderHappyPath(t *testing.T) {
	n := NewNIProvider("u", "niprov", "NI_SVC")
	n.OnChannelUp()
	if _, err := n.BuildLoginRequest(); err != nil {
		t.Fatal(err)
	}
	if err := n.OnLoginResponse(coretransport.Message{}); err != nil {
		t.Fatal(err)
	}
	resp, err := n.PushDirectoryRefresh()
	if err != nil {
		t.Fatal(err)
	}
	if resp.Services[0].Name != "NI_SVC" {
		t.Fatalf("unexpected directory refresh: %+v", resp)
	}
	if err := n.EnterSteadyState(); err != nil {
		t.Fatal(err)
	}
}

func TestTerminalStateRejectsFurtherTransitions(t *testing.T) {
	c := NewConsumer("SVC", false, true)
	c.Fail(ErrUnexpectedState)
	if err := c.OnChannelUp(); err == nil {
		t.Fatal("expected terminal-state rejection")
	}
}
