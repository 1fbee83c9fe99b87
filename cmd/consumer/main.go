// Command consumer drives the consumer tool variant (spec.md §4.9
// "Consumer variant"): one connection per configured thread, each
// requesting its assigned items, optionally posting and sending generic
// messages, and feeding every round-trip latency sample and protocol
// counter into the shared stats aggregator. Flat single-main wiring
// follows the teacher's cmd/worker and cmd/agent convention (flag
// parsing, plain fmt/os.Exit error handling, no framework).
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bc-dunia/marketperf/internal/aggregator"
	"github.com/bc-dunia/marketperf/internal/clock"
	"github.com/bc-dunia/marketperf/internal/config"
	"github.com/bc-dunia/marketperf/internal/control"
	"github.com/bc-dunia/marketperf/internal/itemlist"
	"github.com/bc-dunia/marketperf/internal/itemstate"
	"github.com/bc-dunia/marketperf/internal/nettransport"
	"github.com/bc-dunia/marketperf/internal/otel"
	"github.com/bc-dunia/marketperf/internal/resource"
	"github.com/bc-dunia/marketperf/internal/scheduler"
	"github.com/bc-dunia/marketperf/internal/session"
	"github.com/bc-dunia/marketperf/internal/template"
	"github.com/bc-dunia/marketperf/internal/worker"
)

// randArraySetCount bounds each latency-schedule array at one minute's
// worth of one-second windows before it wraps and repeats.
const randArraySetCount = 60

func main() {
	cfg, err := config.ParseConsumer(os.Args[1:], os.Stderr)
	if err != nil {
		if !config.IsConfigError(err) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	items, err := loadItemFile(cfg.ItemFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "consumer:", err)
		os.Exit(1)
	}
	templates, err := loadTemplateFile(cfg.MsgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "consumer:", err)
		os.Exit(1)
	}

	numWorkers := len(cfg.Threads)
	assignments, err := assignItems(items, cfg.ItemCount, cfg.CommonItemCount, numWorkers)
	if err != nil {
		fmt.Fprintln(os.Stderr, "consumer:", err)
		os.Exit(1)
	}

	clk := clock.New()
	sd := control.NewShutdown()
	stop := sd.InstallSignalHandler()
	defer stop()
	epoch := control.NewEpoch()

	sampler, err := resource.NewSampler()
	if err != nil {
		fmt.Fprintln(os.Stderr, "consumer: resource sampler:", err)
		os.Exit(1)
	}
	metrics, err := otel.NewMetrics(otel.DefaultMetricsConfig())
	if err != nil {
		fmt.Fprintln(os.Stderr, "consumer: metrics:", err)
		os.Exit(1)
	}
	tracer, err := otel.NewTracer(otel.DefaultConfig())
	if err != nil {
		fmt.Fprintln(os.Stderr, "consumer: tracer:", err)
		os.Exit(1)
	}
	defer tracer.Shutdown(context.Background())
	defer metrics.Shutdown(context.Background())

	workers := make([]*worker.ConsumerWorker, numWorkers)
	sources := make([]aggregator.WorkerSource, numWorkers)
	totalRequested := make([]int, numWorkers)

	for i := 0; i < numWorkers; i++ {
		id := i + 1
		conn, err := nettransport.Dial(cfg.ConnectAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "consumer %d: dial %s: %v\n", id, cfg.ConnectAddr, err)
			os.Exit(1)
		}

		domain := primaryDomain(assignments[i])
		if err := templates.RequireCategory(template.Domain(domain), "post", cfg.PostingRate > 0); err != nil {
			fmt.Fprintln(os.Stderr, "consumer:", err)
			os.Exit(1)
		}
		if err := templates.RequireCategory(template.Domain(domain), "generic", cfg.GenericMsgRate > 0); err != nil {
			fmt.Fprintln(os.Stderr, "consumer:", err)
			os.Exit(1)
		}

		registry := itemstate.New(0, len(assignments[i]), cfg.PostingRate > 0)
		for _, it := range assignments[i] {
			registry.AddToRequestQueue(it.Name, itemstate.Domain(it.Domain), it.IsPost, it.IsGeneric, it.IsSnapshot || cfg.Snapshot)
		}
		totalRequested[i] = len(assignments[i])

		sched, err := buildConsumerScheduler(cfg, id)
		if err != nil {
			fmt.Fprintln(os.Stderr, "consumer:", err)
			os.Exit(1)
		}

		sess := session.NewConsumer(cfg.ServiceName, cfg.PostingRate > 0, false)
		cw := worker.NewConsumerWorker(id, conn, clk, sd, cfg.TickRate, cfg.PingIntervalSec,
			sess, registry, templates, sched, itemstate.Domain(domain), cfg.Username, "marketperf-consumer")
		workers[i] = cw
		sources[i] = cw
	}

	agg, err := aggregator.New(aggregator.Config{
		WriteStatsInterval:   time.Duration(cfg.WriteStatsInterval) * time.Second,
		SteadyStateTime:      time.Duration(cfg.SteadyStateTime) * time.Second,
		DelaySteadyStateCalc: time.Duration(cfg.DelaySteadyStateCalc) * time.Millisecond,
		SnapshotMode:         cfg.Snapshot,
		MultiThread:          numWorkers > 1,
		StatsFileBase:        cfg.StatsFile,
		SummaryFile:          cfg.SummaryFile,
		ServiceLabel:         "consumer",
	}, clk, epoch, sampler, metrics, sources)
	if err != nil {
		fmt.Fprintln(os.Stderr, "consumer:", err)
		os.Exit(1)
	}
	defer agg.Close()

	var wg sync.WaitGroup
	for i, cw := range workers {
		wg.Add(1)
		go runConsumer(cw, totalRequested[i], cfg.Threads[i], sd, agg, &wg)
	}

	if err := agg.RunLoop(sd); err != nil {
		fmt.Fprintln(os.Stderr, "consumer:", err)
	}
	sd.Set()
	wg.Wait()
}

func runConsumer(cw *worker.ConsumerWorker, totalRequested, core int, sd *control.Shutdown, agg *aggregator.Aggregator, wg *sync.WaitGroup) {
	defer wg.Done()
	defer cw.Channel.Close()

	if err := resource.BindThread(core); err != nil {
		fmt.Fprintf(os.Stderr, "consumer %d: bind thread to core %d: %v\n", cw.WorkerID(), core, err)
	}

	if err := cw.Connect(); err != nil {
		agg.RecordFailure(cw.WorkerID(), err)
		cw.Session.Fail(err)
		sd.Set()
		return
	}

	nanosPerTick := clock.NanosPerTick(cw.TicksPerSec)
	for tickIndex := 0; !sd.IsSet(); tickIndex++ {
		deadline := cw.Clock.NowNanos() + nanosPerTick
		if err := cw.Tick(tickIndex, deadline); err != nil {
			agg.RecordFailure(cw.WorkerID(), err)
			cw.Session.Fail(err)
			sd.Set()
			return
		}
		if err := cw.MaybeEnterSteadyState(totalRequested); err != nil {
			agg.RecordFailure(cw.WorkerID(), err)
			cw.Session.Fail(err)
			sd.Set()
			return
		}
		sleepUntil(cw.Clock, deadline)
	}
	cw.Session.Shutdown()
}

func sleepUntil(clk *clock.Source, deadlineNanos int64) {
	if remaining := deadlineNanos - clk.NowNanos(); remaining > 0 {
		time.Sleep(time.Duration(remaining))
	}
}

func loadItemFile(path string) ([]itemlist.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open item file: %w", err)
	}
	defer f.Close()
	return itemlist.Load(f)
}

func loadTemplateFile(path string) (*template.Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template file: %w", err)
	}
	defer f.Close()
	return template.Load(f)
}

// assignItems splits the loaded item list across workers: the first
// commonCount items are shared by every worker (scenario S5, spec.md
// §6.1 "-commonItemCount"), and each worker additionally gets its own
// itemCount-commonCount unique items carved out of the remainder.
func assignItems(items []itemlist.Item, itemCount, commonCount, numWorkers int) ([][]itemlist.Item, error) {
	perWorkerUnique := itemCount - commonCount
	total := commonCount + perWorkerUnique*numWorkers
	if err := itemlist.RequireCount(items, total); err != nil {
		return nil, err
	}

	common := items[:commonCount]
	rest := items[commonCount:]
	out := make([][]itemlist.Item, numWorkers)
	for i := 0; i < numWorkers; i++ {
		slice := make([]itemlist.Item, 0, itemCount)
		slice = append(slice, common...)
		slice = append(slice, rest[i*perWorkerUnique:(i+1)*perWorkerUnique]...)
		out[i] = slice
	}
	return out, nil
}

// primaryDomain picks the most common domain among a worker's assigned
// items. A ConsumerWorker stamps every item request with one domain
// (internal/worker.ConsumerWorker.Domain), so a mixed-domain assignment
// degrades to majority-domain routing for its minority items.
func primaryDomain(items []itemlist.Item) itemlist.Domain {
	counts := make(map[itemlist.Domain]int)
	for _, it := range items {
		counts[it.Domain]++
	}
	best, bestN := itemlist.DomainMarketPrice, -1
	for d, n := range counts {
		if n > bestN {
			best, bestN = d, n
		}
	}
	return best
}

func buildConsumerScheduler(cfg *config.Consumer, workerID int) (*scheduler.Scheduler, error) {
	seed := time.Now().UnixNano() + int64(workerID)
	reqRate, err := scheduler.NewRate(cfg.RequestRate, 0, cfg.TickRate, randArraySetCount, seed)
	if err != nil {
		return nil, fmt.Errorf("request rate: %w", err)
	}
	postRate, err := scheduler.NewRate(cfg.PostingRate, cfg.PostingLatencyRate, cfg.TickRate, randArraySetCount, seed+1)
	if err != nil {
		return nil, fmt.Errorf("posting rate: %w", err)
	}
	genRate, err := scheduler.NewRate(cfg.GenericMsgRate, cfg.GenericLatencyRate, cfg.TickRate, randArraySetCount, seed+2)
	if err != nil {
		return nil, fmt.Errorf("generic rate: %w", err)
	}
	return scheduler.New(scheduler.Config{
		TicksPerSec: cfg.TickRate,
		Requests:    reqRate,
		Posts:       postRate,
		Generics:    genRate,
	}), nil
}
