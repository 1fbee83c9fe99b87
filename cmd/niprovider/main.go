// Command niprovider drives the non-interactive-provider tool variant
// (spec.md §4.9 "NI-provider variant"): one listener thread per
// configured worker, each accepting exactly one connection, logging in,
// pushing an unsolicited directory refresh, priming every one of its
// assigned items straight to HAS_REFRESH, and then streaming update
// bursts forever without ever waiting on a subscriber's item requests.
// Flat single-main wiring follows the teacher's cmd/worker and
// cmd/agent convention.
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

const randArraySetCount = 60

func main() {
	cfg, err := config.ParseNIProvider(os.Args[1:], os.Stderr)
	if err != nil {
		if !config.IsConfigError(err) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	items, err := loadItemFile(cfg.ItemFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "niprovider:", err)
		os.Exit(1)
	}
	templates, err := loadTemplateFile(cfg.MsgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "niprovider:", err)
		os.Exit(1)
	}

	domain := itemstate.Domain(cfg.Domain)
	if err := templates.RequireCategory(template.Domain(domain), "update", cfg.UpdateRate > 0); err != nil {
		fmt.Fprintln(os.Stderr, "niprovider:", err)
		os.Exit(1)
	}

	numWorkers := len(cfg.Threads)
	assignments, err := assignItems(items, cfg.ItemCount, cfg.CommonItemCount, numWorkers)
	if err != nil {
		fmt.Fprintln(os.Stderr, "niprovider:", err)
		os.Exit(1)
	}

	ln, err := nettransport.Listen(cfg.ListenAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "niprovider:", err)
		os.Exit(1)
	}
	defer ln.Close()

	clk := clock.New()
	sd := control.NewShutdown()
	stop := sd.InstallSignalHandler()
	defer stop()
	epoch := control.NewEpoch()

	sampler, err := resource.NewSampler()
	if err != nil {
		fmt.Fprintln(os.Stderr, "niprovider: resource sampler:", err)
		os.Exit(1)
	}
	metrics, err := otel.NewMetrics(otel.DefaultMetricsConfig())
	if err != nil {
		fmt.Fprintln(os.Stderr, "niprovider: metrics:", err)
		os.Exit(1)
	}
	tracer, err := otel.NewTracer(otel.DefaultConfig())
	if err != nil {
		fmt.Fprintln(os.Stderr, "niprovider: tracer:", err)
		os.Exit(1)
	}
	defer tracer.Shutdown(context.Background())
	defer metrics.Shutdown(context.Background())

	workers := make([]*worker.NIProviderWorker, numWorkers)
	sources := make([]aggregator.WorkerSource, numWorkers)
	names := make([][]string, numWorkers)

	for i := 0; i < numWorkers; i++ {
		id := i + 1
		conn, err := ln.Accept()
		if err != nil {
			fmt.Fprintf(os.Stderr, "niprovider %d: accept: %v\n", id, err)
			os.Exit(1)
		}

		sched, err := buildNIProviderScheduler(&cfg.ProviderCommon, id)
		if err != nil {
			fmt.Fprintln(os.Stderr, "niprovider:", err)
			os.Exit(1)
		}

		registry := itemstate.New(0, len(assignments[i]), false)
		sess := session.NewNIProvider(cfg.Username, cfg.ProviderName, cfg.ServiceName)
		niw := worker.NewNIProviderWorker(id, nettransport.New(conn), clk, sd, cfg.TickRate, cfg.PingIntervalSec,
			sess, registry, templates, sched, domain, cfg.Username, cfg.ProviderName, cfg.MaxPackCount, cfg.PackBufSize)
		workers[i] = niw
		sources[i] = niw

		itemNames := make([]string, len(assignments[i]))
		for j, it := range assignments[i] {
			itemNames[j] = it.Name
		}
		names[i] = itemNames
	}

	agg, err := aggregator.New(aggregator.Config{
		WriteStatsInterval:   time.Duration(cfg.WriteStatsInterval) * time.Second,
		SteadyStateTime:      time.Duration(cfg.SteadyStateTime) * time.Second,
		DelaySteadyStateCalc: time.Duration(cfg.DelaySteadyStateCalc) * time.Millisecond,
		RunTime:              time.Duration(cfg.RunTime) * time.Second,
		MultiThread:          numWorkers > 1,
		StatsFileBase:        cfg.StatsFile,
		SummaryFile:          cfg.SummaryFile,
		ServiceLabel:         "niprovider",
	}, clk, epoch, sampler, metrics, sources)
	if err != nil {
		fmt.Fprintln(os.Stderr, "niprovider:", err)
		os.Exit(1)
	}
	defer agg.Close()

	var wg sync.WaitGroup
	for i, niw := range workers {
		wg.Add(1)
		go runNIProvider(niw, names[i], cfg.Threads[i], sd, agg, &wg)
	}

	if err := agg.RunLoop(sd); err != nil {
		fmt.Fprintln(os.Stderr, "niprovider:", err)
	}
	sd.Set()
	wg.Wait()
}

func runNIProvider(niw *worker.NIProviderWorker, itemNames []string, core int, sd *control.Shutdown, agg *aggregator.Aggregator, wg *sync.WaitGroup) {
	defer wg.Done()
	defer niw.Channel.Close()

	if err := resource.BindThread(core); err != nil {
		fmt.Fprintf(os.Stderr, "niprovider %d: bind thread to core %d: %v\n", niw.WorkerID(), core, err)
	}

	if err := niw.Connect(); err != nil {
		agg.RecordFailure(niw.WorkerID(), err)
		niw.Session.Fail(err)
		sd.Set()
		return
	}
	if err := niw.PrimeItems(itemNames); err != nil {
		agg.RecordFailure(niw.WorkerID(), err)
		niw.Session.Fail(err)
		sd.Set()
		return
	}

	nanosPerTick := clock.NanosPerTick(niw.TicksPerSec)
	for tickIndex := 0; !sd.IsSet(); tickIndex++ {
		deadline := niw.Clock.NowNanos() + nanosPerTick
		if err := niw.Tick(tickIndex, deadline); err != nil {
			agg.RecordFailure(niw.WorkerID(), err)
			niw.Session.Fail(err)
			sd.Set()
			return
		}
		sleepUntil(niw.Clock, deadline)
	}
	niw.Session.Shutdown()
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

// assignItems splits the loaded item list across workers the same way
// cmd/consumer does: commonCount items shared by every worker, plus
// itemCount-commonCount unique items per worker.
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

func buildNIProviderScheduler(cfg *config.ProviderCommon, workerID int) (*scheduler.Scheduler, error) {
	seed := time.Now().UnixNano() + int64(workerID)
	updRate, err := scheduler.NewRate(cfg.UpdateRate, cfg.LatencyUpdateRate, cfg.TickRate, randArraySetCount, seed)
	if err != nil {
		return nil, fmt.Errorf("update rate: %w", err)
	}
	return scheduler.New(scheduler.Config{
		TicksPerSec: cfg.TickRate,
		Updates:     updRate,
	}), nil
}
