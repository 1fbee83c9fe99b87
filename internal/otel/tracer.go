// Package otel provides the OpenTelemetry tracer and metrics the cmd/*
// binaries build; the stats aggregator (internal/aggregator) records
// through the metrics, and the per-tick worker path (internal/worker)
// starts no spans. It is grounded on the teacher's
// internal/otel/tracer.go and metrics.go, trimmed to the stdout
// exporters only: spec.md places a remote control plane and fan-out
// out of scope, so the OTLP gRPC/HTTP exporter family the teacher used
// to ship spans to a collector has no SPEC_FULL.md component to serve
// it (see DESIGN.md). The stdout exporters still exercise the full
// tracer/meter-provider wiring for a standalone CLI run.
package otel

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config holds configuration for the OpenTelemetry tracer.
type Config struct {
	// Enabled controls whether tracing is active. Default: false (no-op).
	Enabled bool

	// ServiceName identifies the running tool variant ("marketperf-consumer",
	// "marketperf-provider", "marketperf-niprovider") for trace attribution.
	ServiceName string
}

// DefaultConfig returns a disabled configuration.
func DefaultConfig() *Config {
	return &Config{Enabled: false, ServiceName: "marketperf"}
}

// Tracer wraps an OpenTelemetry tracer with a burst span helper
// (StartBurstSpan); neither internal/worker nor internal/aggregator
// calls it.
type Tracer struct {
	config   *Config
	provider trace.TracerProvider
	tracer   trace.Tracer
	shutdown func(context.Context) error
	mu       sync.RWMutex
}

// NewTracer builds a Tracer. When cfg.Enabled is false the returned
// Tracer is a no-op and Shutdown is a no-op, matching the teacher's
// disabled-by-default posture.
func NewTracer(cfg *Config) (*Tracer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return NoopTracer(), nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("otel: stdout trace exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("otel: resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return &Tracer{
		config:   cfg,
		provider: tp,
		tracer:   tp.Tracer(cfg.ServiceName),
		shutdown: tp.Shutdown,
	}, nil
}

// NoopTracer returns a Tracer with no exporter attached, safe to call
// unconditionally from a worker that was built with tracing disabled.
func NoopTracer() *Tracer {
	tp := noop.NewTracerProvider()
	return &Tracer{
		config:   DefaultConfig(),
		provider: tp,
		tracer:   tp.Tracer("marketperf"),
		shutdown: func(context.Context) error { return nil },
	}
}

// Enabled reports whether this Tracer exports anywhere.
func (t *Tracer) Enabled() bool {
	return t != nil && t.config != nil && t.config.Enabled
}

// BurstSpanOptions labels one tick's burst span (spec.md §4.8
// send_bursts), mirroring the teacher's StartOperationSpan shape
// narrowed to the traffic classes this tool generates.
type BurstSpanOptions struct {
	WorkerID     int
	TickIndex    int
	RequestCount int
	PostCount    int
	GenericCount int
	UpdateCount  int
}

// StartBurstSpan starts a span covering one tick's send_bursts call.
func (t *Tracer) StartBurstSpan(ctx context.Context, opts BurstSpanOptions) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "tick.burst",
		trace.WithAttributes(
			attribute.Int("marketperf.worker_id", opts.WorkerID),
			attribute.Int("marketperf.tick_index", opts.TickIndex),
			attribute.Int("marketperf.request_count", opts.RequestCount),
			attribute.Int("marketperf.post_count", opts.PostCount),
			attribute.Int("marketperf.generic_count", opts.GenericCount),
			attribute.Int("marketperf.update_count", opts.UpdateCount),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

// Shutdown flushes and tears down the underlying exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shutdown != nil {
		return t.shutdown(ctx)
	}
	return nil
}
