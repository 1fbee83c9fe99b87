package config

import (
	"bytes"
	"testing"
)

func TestParseConsumerDefaults(t *testing.T) {
	var out bytes.Buffer
	c, err := ParseConsumer([]string{"-threads", "0,1", "-itemCount", "10"}, &out)
	if err != nil {
		t.Fatalf("ParseConsumer: %v", err)
	}
	if len(c.Threads) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(c.Threads))
	}
	if c.ItemCount != 10 {
		t.Fatalf("expected itemCount 10, got %d", c.ItemCount)
	}
}

func TestParseConsumerLatencyAllSentinel(t *testing.T) {
	var out bytes.Buffer
	c, err := ParseConsumer([]string{
		"-threads", "-1",
		"-postingRate", "10",
		"-postingLatencyRate", "all",
	}, &out)
	if err != nil {
		t.Fatalf("ParseConsumer: %v", err)
	}
	if c.PostingLatencyRate != -1 {
		t.Fatalf("expected ALWAYS sentinel (-1), got %d", c.PostingLatencyRate)
	}
}

func TestValidatePostingIncompatibleWithSnapshot(t *testing.T) {
	var out bytes.Buffer
	_, err := ParseConsumer([]string{
		"-threads", "-1",
		"-snapshot",
		"-postingRate", "5",
	}, &out)
	if err == nil || !IsConfigError(err) {
		t.Fatalf("expected config error for posting+snapshot, got %v", err)
	}
}

func TestValidateLatencyRateExceedsTotal(t *testing.T) {
	var out bytes.Buffer
	_, err := ParseConsumer([]string{
		"-threads", "-1",
		"-postingRate", "5",
		"-postingLatencyRate", "10",
	}, &out)
	if err == nil || !IsConfigError(err) {
		t.Fatalf("expected config error for latency rate exceeding total, got %v", err)
	}
}

func TestValidateCommonItemCountExceedsItemCount(t *testing.T) {
	var out bytes.Buffer
	_, err := ParseConsumer([]string{
		"-threads", "-1",
		"-itemCount", "5",
		"-commonItemCount", "6",
	}, &out)
	if err == nil || !IsConfigError(err) {
		t.Fatalf("expected config error for commonItemCount > itemCount, got %v", err)
	}
}

func TestParseProviderPackedMessageValidation(t *testing.T) {
	var out bytes.Buffer
	_, err := ParseProvider([]string{
		"-threads", "-1",
		"-maxPackCount", "5",
		"-packBufSize", "0",
	}, &out)
	if err == nil || !IsConfigError(err) {
		t.Fatalf("expected config error for packBufSize=0 with maxPackCount>1, got %v", err)
	}
}

func TestParseProviderLatencyUpdateRateAll(t *testing.T) {
	var out bytes.Buffer
	p, err := ParseProvider([]string{
		"-threads", "-1",
		"-updateRate", "100",
		"-latencyUpdateRate", "all",
	}, &out)
	if err != nil {
		t.Fatalf("ParseProvider: %v", err)
	}
	if p.LatencyUpdateRate != -1 {
		t.Fatalf("expected ALWAYS sentinel, got %d", p.LatencyUpdateRate)
	}
}

func TestParseInvalidFlagReturnsConfigError(t *testing.T) {
	var out bytes.Buffer
	_, err := ParseConsumer([]string{"-not-a-real-flag"}, &out)
	if err == nil || !IsConfigError(err) {
		t.Fatalf("expected config error for unknown flag, got %v", err)
	}
}
