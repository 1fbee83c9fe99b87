package otel

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// MetricsConfig configures the stats aggregator's metric instruments.
type MetricsConfig struct {
	Enabled     bool
	ServiceName string
}

// DefaultMetricsConfig returns a disabled configuration.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{Enabled: false, ServiceName: "marketperf"}
}

// Metrics holds one counter/histogram instrument per CSV column family
// of spec.md §6.4, so the same per-interval numbers the aggregator
// writes to a CSV row are also exported as OpenTelemetry instruments
// (grounded on the teacher's internal/otel/metrics.go instrument set,
// narrowed to this tool's counters).
type Metrics struct {
	config   *MetricsConfig
	provider *sdkmetric.MeterProvider
	meter    metric.Meter
	shutdown func(context.Context) error
	mu       sync.RWMutex

	LatencyUsec  metric.Float64Histogram
	PostLatency  metric.Float64Histogram
	GenLatency   metric.Float64Histogram
	Updates      metric.Int64Counter
	Posts        metric.Int64Counter
	Generics     metric.Int64Counter
	OutOfBuffers metric.Int64Counter
	CPUFraction  metric.Float64Gauge
	RSSBytes     metric.Int64Gauge
}

// NewMetrics builds a Metrics instance. When cfg.Enabled is false every
// instrument is backed by a no-op meter.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}
	m := &Metrics{config: cfg}

	if !cfg.Enabled {
		m.meter = noop.NewMeterProvider().Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, m.registerInstruments()
	}

	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("otel: stdout metric exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("otel: resource: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	m.provider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown
	return m, m.registerInstruments()
}

func (m *Metrics) registerInstruments() error {
	var err error
	if m.LatencyUsec, err = m.meter.Float64Histogram("marketperf.latency.usec",
		metric.WithDescription("update/refresh round-trip latency"), metric.WithUnit("us")); err != nil {
		return err
	}
	if m.PostLatency, err = m.meter.Float64Histogram("marketperf.post_latency.usec",
		metric.WithDescription("post round-trip latency"), metric.WithUnit("us")); err != nil {
		return err
	}
	if m.GenLatency, err = m.meter.Float64Histogram("marketperf.genmsg_latency.usec",
		metric.WithDescription("generic-message round-trip latency"), metric.WithUnit("us")); err != nil {
		return err
	}
	if m.Updates, err = m.meter.Int64Counter("marketperf.updates_total"); err != nil {
		return err
	}
	if m.Posts, err = m.meter.Int64Counter("marketperf.posts_total"); err != nil {
		return err
	}
	if m.Generics, err = m.meter.Int64Counter("marketperf.generics_total"); err != nil {
		return err
	}
	if m.OutOfBuffers, err = m.meter.Int64Counter("marketperf.out_of_buffers_total"); err != nil {
		return err
	}
	if m.CPUFraction, err = m.meter.Float64Gauge("marketperf.cpu_fraction"); err != nil {
		return err
	}
	if m.RSSBytes, err = m.meter.Int64Gauge("marketperf.rss_bytes"); err != nil {
		return err
	}
	return nil
}

// Shutdown flushes and tears down the underlying exporter.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}
