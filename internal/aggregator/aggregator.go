// Package aggregator implements the stats aggregator (C13): the
// main-thread loop that, every write_stats_interval seconds, drains
// every worker's latency queue and counter deltas, classifies samples
// as startup or steady-state, rolls per-thread totals into a global
// total when multi-threaded, writes one CSV row per worker, detects
// the one-time steady-state transition, and on shutdown prints the
// per-thread and overall summary blocks (spec.md §4.11, §6.4, §7).
//
// Grounded on the teacher's internal/controlplane run-summary
// rendering (per-run block with per-agent sub-blocks, failure lines
// attributed by id) for the summary shape, and on
// internal/telemetry.BoundedQueue's swap-drain loop for the interval
// cadence; reworked here around internal/stats.ValueStats instead of
// histogram buckets, since spec.md's CSV/summary contract is mean/
// stddev/min/max, not percentile buckets.
package aggregator

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bc-dunia/marketperf/internal/clock"
	"github.com/bc-dunia/marketperf/internal/control"
	"github.com/bc-dunia/marketperf/internal/latencycodec"
	"github.com/bc-dunia/marketperf/internal/latencyqueue"
	"github.com/bc-dunia/marketperf/internal/otel"
	"github.com/bc-dunia/marketperf/internal/resource"
	"github.com/bc-dunia/marketperf/internal/session"
	"github.com/bc-dunia/marketperf/internal/stats"
	"github.com/bc-dunia/marketperf/internal/worker"
)

// WorkerSource is the subset of a *worker.ConsumerWorker /
// *worker.ProviderWorker / *worker.NIProviderWorker the aggregator
// needs. All three satisfy it structurally via core's promoted
// methods plus their own SessionState.
type WorkerSource interface {
	WorkerID() int
	DrainLatencies() []latencyqueue.Record
	CounterDeltas() worker.CounterSnapshot
	SessionState() session.State
}

// Config configures one aggregator run.
type Config struct {
	// WriteStatsInterval is how often a CSV row is emitted per worker.
	WriteStatsInterval time.Duration
	// SteadyStateTime extends the run deadline by this much once the
	// global steady-state transition is detected.
	SteadyStateTime time.Duration
	// DelaySteadyStateCalc holds back the steady-state classification
	// boundary by this much, absorbing the jitter of workers reaching
	// STEADY_STATE at slightly different times (spec.md §6.1
	// "-delaySteadyStateCalc MS").
	DelaySteadyStateCalc time.Duration
	// RunTime is an absolute cap on the run, independent of steady
	// state (provider variants' "-runTime S"). Zero means unbounded
	// until steady state is reached and extended.
	RunTime time.Duration
	// SnapshotMode ends the run once every worker's session has left
	// SERVICE_UP (the consumer "-snapshot" early-exit condition).
	SnapshotMode bool
	// MultiThread enables the rolled-up global summary/CSV block.
	MultiThread bool
	// StatsFileBase names per-worker CSV files as "<base>-<id>.csv".
	// Empty disables CSV output.
	StatsFileBase string
	// SummaryFile names the end-of-run summary file. Empty disables it.
	SummaryFile string
	// ServiceLabel identifies the tool variant in the summary header
	// ("consumer", "provider", "niprovider").
	ServiceLabel string
}

// perThreadBlock is the running state for one worker's stats: interval
// accumulators (reset each CSV row) and lifetime accumulators (printed
// in the summary).
type perThreadBlock struct {
	id int

	csvFile   *os.File
	csvWriter *csv.Writer

	intervalUpdateLatency *stats.ValueStats
	intervalPostLatency   *stats.ValueStats
	intervalGenLatency    *stats.ValueStats

	startupLatency *stats.ValueStats
	steadyLatency  *stats.ValueStats
	overallUpdate  *stats.ValueStats
	overallPost    *stats.ValueStats
	overallGen     *stats.ValueStats

	totals worker.CounterSnapshot
}

func newPerThreadBlock(id int) *perThreadBlock {
	return &perThreadBlock{
		id:                    id,
		intervalUpdateLatency: stats.NewValueStats(stats.DisplayInteger),
		intervalPostLatency:   stats.NewValueStats(stats.DisplayInteger),
		intervalGenLatency:    stats.NewValueStats(stats.DisplayInteger),
		startupLatency:        stats.NewValueStats(stats.DisplayInteger),
		steadyLatency:         stats.NewValueStats(stats.DisplayInteger),
		overallUpdate:         stats.NewValueStats(stats.DisplayInteger),
		overallPost:           stats.NewValueStats(stats.DisplayInteger),
		overallGen:            stats.NewValueStats(stats.DisplayInteger),
	}
}

func (b *perThreadBlock) addTotals(d worker.CounterSnapshot) {
	b.totals.RequestsSent += d.RequestsSent
	b.totals.RefreshesReceived += d.RefreshesReceived
	b.totals.UpdatesSent += d.UpdatesSent
	b.totals.UpdatesReceived += d.UpdatesReceived
	b.totals.PostsSent += d.PostsSent
	b.totals.PostsReceived += d.PostsReceived
	b.totals.GenericsSent += d.GenericsSent
	b.totals.GenericsReceived += d.GenericsReceived
	b.totals.StatusReceived += d.StatusReceived
	b.totals.PingsSent += d.PingsSent
	b.totals.PingsReceived += d.PingsReceived
	b.totals.OutOfBuffers += d.OutOfBuffers
	b.totals.PackedMsgsSent += d.PackedMsgsSent
}

var csvHeader = []string{
	"utc", "worker_id",
	"update_latency_count", "update_latency_avg_usec", "update_latency_stddev_usec",
	"update_latency_min_usec", "update_latency_max_usec",
	"images", "update_rate_msg_per_sec",
	"requests_sent", "refreshes_received", "updates_sent", "updates_received",
	"posts_sent", "posts_received",
	"posting_latency_count", "posting_latency_avg_usec", "posting_latency_stddev_usec",
	"posting_latency_min_usec", "posting_latency_max_usec",
	"genmsg_sent", "genmsg_received",
	"genmsg_latency_count", "genmsg_latency_avg_usec", "genmsg_latency_stddev_usec",
	"genmsg_latency_min_usec", "genmsg_latency_max_usec",
	"out_of_buffers", "packed_msg_count", "update_msg_count", "cpu_pct", "mem_mb",
}

// Aggregator is the stats-aggregator (C13) main-thread loop.
type Aggregator struct {
	cfg     Config
	clk     *clock.Source
	epoch   *control.Epoch
	sampler *resource.Sampler
	metrics *otel.Metrics

	runID string

	sources []WorkerSource
	blocks  map[int]*perThreadBlock
	global  *perThreadBlock

	runDeadlineNanos int64 // 0 == unbounded until steady state extends it

	mu       sync.Mutex
	failures map[int]error
}

// New builds an Aggregator over sources, opening one CSV file per
// worker under cfg.StatsFileBase when configured.
func New(cfg Config, clk *clock.Source, epoch *control.Epoch, sampler *resource.Sampler, metrics *otel.Metrics, sources []WorkerSource) (*Aggregator, error) {
	a := &Aggregator{
		cfg:      cfg,
		clk:      clk,
		epoch:    epoch,
		sampler:  sampler,
		metrics:  metrics,
		runID:    uuid.NewString(),
		sources:  sources,
		blocks:   make(map[int]*perThreadBlock, len(sources)),
		failures: make(map[int]error),
	}
	if cfg.RunTime > 0 {
		a.runDeadlineNanos = clk.NowNanos() + cfg.RunTime.Nanoseconds()
	}
	for _, src := range sources {
		b := newPerThreadBlock(src.WorkerID())
		if cfg.StatsFileBase != "" {
			f, err := os.Create(fmt.Sprintf("%s-%d.csv", cfg.StatsFileBase, src.WorkerID()))
			if err != nil {
				return nil, fmt.Errorf("aggregator: create stats file: %w", err)
			}
			w := csv.NewWriter(f)
			if err := w.Write(csvHeader); err != nil {
				return nil, fmt.Errorf("aggregator: write header: %w", err)
			}
			b.csvFile = f
			b.csvWriter = w
		}
		a.blocks[src.WorkerID()] = b
	}
	if cfg.MultiThread {
		a.global = newPerThreadBlock(-1)
	}
	return a, nil
}

// RecordFailure attaches a fatal worker error to its owning thread, so
// the end-of-run summary can print "TEST FAILED due to error from
// thread N: <location>" (spec.md §7).
func (a *Aggregator) RecordFailure(workerID int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[workerID] = err
}

// RunLoop runs the aggregation loop until shutdown is set (externally,
// by Ctrl-C, by a worker failure, or by this loop's own deadline/
// snapshot-completion check), then performs one final drain pass and
// writes the summary file. It sleeps in one-second increments so a
// shutdown request is noticed promptly rather than after a full
// interval (spec.md §5 "the main thread sleeps for one-second
// intervals... or for the remainder of the interval if woken").
func (a *Aggregator) RunLoop(shutdown *control.Shutdown) error {
	var elapsed time.Duration
	for !shutdown.IsSet() {
		time.Sleep(time.Second)
		elapsed += time.Second
		if a.shouldStop() {
			shutdown.Set()
		}
		if elapsed >= a.cfg.WriteStatsInterval || shutdown.IsSet() {
			elapsed = 0
			a.pass()
		}
	}
	a.pass()
	return a.writeSummary()
}

// shouldStop evaluates the snapshot-mode and absolute-deadline stop
// conditions (spec.md §4.11 "At shutdown").
func (a *Aggregator) shouldStop() bool {
	if a.runDeadlineNanos > 0 && a.clk.NowNanos() >= a.runDeadlineNanos {
		return true
	}
	if a.cfg.SnapshotMode && a.allSessionsPastServiceUp() {
		return true
	}
	return false
}

func (a *Aggregator) allSessionsPastServiceUp() bool {
	for _, src := range a.sources {
		switch src.SessionState() {
		case session.StateSteadyState, session.StateFailed, session.StateShutdown:
			continue
		default:
			return false
		}
	}
	return true
}

// pass runs one aggregation pass: spec.md §4.11 steps 1-5. RunLoop
// calls this once more after shutdown is set, draining whatever
// accumulated since the last interval before the summary is written.
func (a *Aggregator) pass() {
	var sample resource.Sample
	if a.sampler != nil {
		if s, err := a.sampler.Read(); err == nil {
			sample = s
		}
	}
	if a.metrics != nil {
		ctx := context.Background()
		a.metrics.CPUFraction.Record(ctx, sample.CPUFraction)
		a.metrics.RSSBytes.Record(ctx, int64(sample.RSSBytes))
	}

	reachedBefore, _ := a.epoch.SteadyState()

	for _, src := range a.sources {
		block := a.blocks[src.WorkerID()]
		a.drainLatencies(block, src.DrainLatencies())

		deltas := src.CounterDeltas()
		block.addTotals(deltas)
		if a.global != nil {
			a.global.addTotals(deltas)
		}

		a.writeRow(block, deltas, sample)
	}

	if !reachedBefore && a.allSessionsReachedSteadyState() {
		if a.epoch.MarkSteadyState(a.clk.NowNanos()) {
			extra := a.cfg.SteadyStateTime.Nanoseconds()
			if a.runDeadlineNanos == 0 {
				a.runDeadlineNanos = a.clk.NowNanos() + extra
			} else {
				a.runDeadlineNanos += extra
			}
		}
	}
}

func (a *Aggregator) allSessionsReachedSteadyState() bool {
	if len(a.sources) == 0 {
		return false
	}
	for _, src := range a.sources {
		switch src.SessionState() {
		case session.StateSteadyState, session.StateFailed, session.StateShutdown:
			continue
		default:
			return false
		}
	}
	return true
}

// drainLatencies folds every drained record into the interval,
// lifetime, and (once steady state is reached) startup/steady-state
// statistics, per spec.md §4.11 step 2.
func (a *Aggregator) drainLatencies(block *perThreadBlock, records []latencyqueue.Record) {
	reached, startNs := a.epoch.SteadyState()
	boundaryNs := startNs + a.cfg.DelaySteadyStateCalc.Nanoseconds()
	ctx := context.Background()

	for _, r := range records {
		usec := float64(r.LatencyUsec())
		isSteady := reached && r.End*1000 >= boundaryNs

		switch r.Class {
		case latencycodec.ClassUpdate:
			block.intervalUpdateLatency.Update(usec)
			block.overallUpdate.Update(usec)
			if a.metrics != nil {
				a.metrics.LatencyUsec.Record(ctx, usec)
			}
		case latencycodec.ClassPost:
			block.intervalPostLatency.Update(usec)
			block.overallPost.Update(usec)
			if a.metrics != nil {
				a.metrics.PostLatency.Record(ctx, usec)
			}
		case latencycodec.ClassGeneric:
			block.intervalGenLatency.Update(usec)
			block.overallGen.Update(usec)
			if a.metrics != nil {
				a.metrics.GenLatency.Record(ctx, usec)
			}
		}

		if r.Class == latencycodec.ClassUpdate {
			if isSteady {
				block.steadyLatency.Update(usec)
			} else {
				block.startupLatency.Update(usec)
			}
		}
	}
}

func (a *Aggregator) writeRow(block *perThreadBlock, deltas worker.CounterSnapshot, sample resource.Sample) {
	if a.metrics != nil {
		ctx := context.Background()
		a.metrics.Updates.Add(ctx, deltas.UpdatesReceived)
		a.metrics.Posts.Add(ctx, deltas.PostsReceived)
		a.metrics.Generics.Add(ctx, deltas.GenericsReceived)
		a.metrics.OutOfBuffers.Add(ctx, deltas.OutOfBuffers)
	}

	if block.csvWriter == nil {
		block.intervalUpdateLatency.Reset()
		block.intervalPostLatency.Reset()
		block.intervalGenLatency.Reset()
		return
	}

	u := block.intervalUpdateLatency.Snapshot()
	p := block.intervalPostLatency.Snapshot()
	g := block.intervalGenLatency.Snapshot()
	intervalSec := a.cfg.WriteStatsInterval.Seconds()
	var updateRate float64
	if intervalSec > 0 {
		updateRate = float64(deltas.UpdatesReceived) / intervalSec
	}

	row := []string{
		time.Now().UTC().Format(time.RFC3339),
		strconv.Itoa(block.id),
		strconv.FormatInt(u.Count, 10), f2(u.Mean), f2(u.StdDev), f2(u.Min), f2(u.Max),
		strconv.FormatInt(deltas.RefreshesReceived, 10), f2(updateRate),
		strconv.FormatInt(deltas.RequestsSent, 10), strconv.FormatInt(deltas.RefreshesReceived, 10),
		strconv.FormatInt(deltas.UpdatesSent, 10), strconv.FormatInt(deltas.UpdatesReceived, 10),
		strconv.FormatInt(deltas.PostsSent, 10), strconv.FormatInt(deltas.PostsReceived, 10),
		strconv.FormatInt(p.Count, 10), f2(p.Mean), f2(p.StdDev), f2(p.Min), f2(p.Max),
		strconv.FormatInt(deltas.GenericsSent, 10), strconv.FormatInt(deltas.GenericsReceived, 10),
		strconv.FormatInt(g.Count, 10), f2(g.Mean), f2(g.StdDev), f2(g.Min), f2(g.Max),
		strconv.FormatInt(deltas.OutOfBuffers, 10),
		strconv.FormatInt(deltas.PackedMsgsSent, 10), strconv.FormatInt(deltas.UpdatesSent, 10),
		f2(sample.CPUFraction * 100), f2(float64(sample.RSSBytes) / (1024 * 1024)),
	}
	_ = block.csvWriter.Write(row)
	block.csvWriter.Flush()

	block.intervalUpdateLatency.Reset()
	block.intervalPostLatency.Reset()
	block.intervalGenLatency.Reset()
}

func f2(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// Close flushes and closes every open CSV file.
func (a *Aggregator) Close() {
	for _, b := range a.blocks {
		if b.csvFile != nil {
			b.csvWriter.Flush()
			b.csvFile.Close()
		}
	}
}

// writeSummary renders the per-thread and overall summary blocks to
// cfg.SummaryFile (or stdout if unset), including a "TEST FAILED due
// to error from thread N: <location>" line for every failed thread
// (spec.md §6.4, §7).
func (a *Aggregator) writeSummary() error {
	out := io.Writer(os.Stdout)
	if a.cfg.SummaryFile != "" {
		f, err := os.Create(a.cfg.SummaryFile)
		if err != nil {
			return fmt.Errorf("aggregator: create summary file: %w", err)
		}
		defer f.Close()
		out = f
	}

	fmt.Fprintf(out, "=== %s run summary (run_id=%s) ===\n", a.cfg.ServiceLabel, a.runID)

	reached, _ := a.epoch.SteadyState()
	fmt.Fprintf(out, "steady_state_reached=%v\n\n", reached)

	ids := make([]int, 0, len(a.blocks))
	for id := range a.blocks {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	a.mu.Lock()
	failures := make(map[int]error, len(a.failures))
	for id, err := range a.failures {
		failures[id] = err
	}
	a.mu.Unlock()

	for _, id := range ids {
		a.writeBlock(out, fmt.Sprintf("thread %d", id), a.blocks[id])
		if err, ok := failures[id]; ok {
			fmt.Fprintf(out, "TEST FAILED due to error from thread %d: %v\n", id, err)
		}
		fmt.Fprintln(out)
	}

	if a.global != nil {
		a.writeBlock(out, "overall", a.global)
	}
	return nil
}

func (a *Aggregator) writeBlock(out io.Writer, label string, b *perThreadBlock) {
	fmt.Fprintf(out, "-- %s --\n", label)
	writeValueLine(out, "startup latency (usec)", b.startupLatency)
	writeValueLine(out, "steady-state latency (usec)", b.steadyLatency)
	writeValueLine(out, "overall update latency (usec)", b.overallUpdate)
	writeValueLine(out, "overall posting latency (usec)", b.overallPost)
	writeValueLine(out, "overall genmsg latency (usec)", b.overallGen)
	fmt.Fprintf(out, "requests_sent=%d refreshes_received=%d updates_sent=%d updates_received=%d\n",
		b.totals.RequestsSent, b.totals.RefreshesReceived, b.totals.UpdatesSent, b.totals.UpdatesReceived)
	fmt.Fprintf(out, "posts_sent=%d posts_received=%d genmsg_sent=%d genmsg_received=%d out_of_buffers=%d pings_sent=%d pings_received=%d status_received=%d packed_msg_count=%d\n",
		b.totals.PostsSent, b.totals.PostsReceived, b.totals.GenericsSent, b.totals.GenericsReceived,
		b.totals.OutOfBuffers, b.totals.PingsSent, b.totals.PingsReceived, b.totals.StatusReceived, b.totals.PackedMsgsSent)
}

func writeValueLine(out io.Writer, label string, v *stats.ValueStats) {
	s := v.Snapshot()
	fmt.Fprintf(out, "%s: count=%d avg=%.2f stddev=%.2f min=%.2f max=%.2f\n",
		label, s.Count, s.Mean, s.StdDev, s.Min, s.Max)
}
