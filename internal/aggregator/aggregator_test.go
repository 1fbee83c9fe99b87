package aggregator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bc-dunia/marketperf/internal/clock"
	"github.com/bc-dunia/marketperf/internal/control"
	"github.com/bc-dunia/marketperf/internal/latencycodec"
	"github.com/bc-dunia/marketperf/internal/latencyqueue"
	"github.com/bc-dunia/marketperf/internal/otel"
	"github.com/bc-dunia/marketperf/internal/session"
	"github.com/bc-dunia/marketperf/internal/worker"
)

type fakeSource struct {
	id      int
	records []latencyqueue.Record
	deltas  worker.CounterSnapshot
	state   session.State
}

func (f *fakeSource) WorkerID() int { return f.id }

func (f *fakeSource) DrainLatencies() []latencyqueue.Record {
	r := f.records
	f.records = nil
	return r
}

func (f *fakeSource) CounterDeltas() worker.CounterSnapshot { return f.deltas }

func (f *fakeSource) SessionState() session.State { return f.state }

func mustMetrics(t *testing.T) *otel.Metrics {
	t.Helper()
	m, err := otel.NewMetrics(&otel.MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestPassWritesCSVRowAndResetsInterval(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{
		id: 1,
		records: []latencyqueue.Record{
			{Start: 0, End: 100, TicksPerUsec: 1, Class: latencycodec.ClassUpdate},
			{Start: 0, End: 200, TicksPerUsec: 1, Class: latencycodec.ClassPost},
		},
		deltas: worker.CounterSnapshot{UpdatesReceived: 5, RefreshesReceived: 2},
		state:  session.StateServiceUp,
	}
	cfg := Config{
		WriteStatsInterval: 1,
		StatsFileBase:      filepath.Join(dir, "stats"),
		SummaryFile:        filepath.Join(dir, "summary.txt"),
		ServiceLabel:       "consumer",
	}
	a, err := New(cfg, clock.New(), control.NewEpoch(), nil, mustMetrics(t), []WorkerSource{src})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	a.pass()

	if src.records != nil {
		t.Fatal("expected records drained")
	}
	if a.blocks[1].overallUpdate.Count() != 1 {
		t.Fatalf("expected 1 overall update sample, got %d", a.blocks[1].overallUpdate.Count())
	}
	if a.blocks[1].intervalUpdateLatency.Count() != 0 {
		t.Fatal("expected interval stats reset after CSV row written")
	}

	a.blocks[1].csvWriter.Flush()
	data, err := os.ReadFile(cfg.StatsFileBase + "-1.csv")
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines", len(lines))
	}
}

func TestSteadyStateTransitionExtendsDeadline(t *testing.T) {
	src := &fakeSource{id: 1, state: session.StateSteadyState}
	cfg := Config{WriteStatsInterval: 1, SteadyStateTime: 10}
	a, err := New(cfg, clock.New(), control.NewEpoch(), nil, mustMetrics(t), []WorkerSource{src})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if reached, _ := a.epoch.SteadyState(); reached {
		t.Fatal("expected steady state not yet reached")
	}
	a.pass()
	reached, _ := a.epoch.SteadyState()
	if !reached {
		t.Fatal("expected steady state reached after pass")
	}
	if a.runDeadlineNanos == 0 {
		t.Fatal("expected run deadline to be set once steady state reached")
	}
}

func TestWriteSummaryIncludesFailureLine(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{id: 7, state: session.StateFailed}
	cfg := Config{WriteStatsInterval: 1, SummaryFile: filepath.Join(dir, "summary.txt"), ServiceLabel: "provider"}
	a, err := New(cfg, clock.New(), control.NewEpoch(), nil, mustMetrics(t), []WorkerSource{src})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	a.RecordFailure(7, errFatalForTest)
	a.pass()
	if err := a.writeSummary(); err != nil {
		t.Fatalf("writeSummary: %v", err)
	}

	data, err := os.ReadFile(cfg.SummaryFile)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if !strings.Contains(string(data), "TEST FAILED due to error from thread 7") {
		t.Fatalf("expected failure line, got:\n%s", data)
	}
}

var errFatalForTest = &worker.Error{ID: 7, Kind: worker.KindIOTransport, Op: "submit", Err: os.ErrClosed}
