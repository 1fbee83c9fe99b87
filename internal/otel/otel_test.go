package otel

import (
	"context"
	"testing"
)

func TestNoopTracerDisabled(t *testing.T) {
	tr := NoopTracer()
	if tr.Enabled() {
		t.Fatal("NoopTracer should report disabled")
	}
	_, span := tr.StartBurstSpan(context.Background(), BurstSpanOptions{WorkerID: 1, TickIndex: 2})
	span.End()
}

func TestNewTracerDisabledByConfig(t *testing.T) {
	tr, err := NewTracer(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	if tr.Enabled() {
		t.Fatal("expected disabled tracer")
	}
}

func TestNewMetricsDisabledRegistersInstruments(t *testing.T) {
	m, err := NewMetrics(&MetricsConfig{Enabled: false, ServiceName: "test"})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.Updates == nil || m.LatencyUsec == nil || m.CPUFraction == nil {
		t.Fatal("expected instruments to be registered even when disabled")
	}
}
