// Command provider drives the interactive-provider tool variant
// (spec.md §4.9 "Provider variant"): one listener thread per configured
// worker, each accepting exactly one consumer connection, answering its
// item requests and posts/generics, and streaming a periodic update
// burst to every item it has refreshed. Flat single-main wiring follows
// the teacher's cmd/worker and cmd/agent convention.
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
	cfg, err := config.ParseProvider(os.Args[1:], os.Stderr)
	if err != nil {
		if !config.IsConfigError(err) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	templates, err := loadTemplateFile(cfg.MsgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "provider:", err)
		os.Exit(1)
	}
	domain := itemstate.Domain(cfg.Domain)
	if err := templates.RequireCategory(template.Domain(domain), "update", cfg.UpdateRate > 0); err != nil {
		fmt.Fprintln(os.Stderr, "provider:", err)
		os.Exit(1)
	}
	if err := templates.RequireCategory(template.Domain(domain), "post", cfg.PostingRate > 0); err != nil {
		fmt.Fprintln(os.Stderr, "provider:", err)
		os.Exit(1)
	}
	if err := templates.RequireCategory(template.Domain(domain), "generic", cfg.GenericMsgRate > 0); err != nil {
		fmt.Fprintln(os.Stderr, "provider:", err)
		os.Exit(1)
	}

	ln, err := nettransport.Listen(cfg.ListenAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "provider:", err)
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
		fmt.Fprintln(os.Stderr, "provider: resource sampler:", err)
		os.Exit(1)
	}
	metrics, err := otel.NewMetrics(otel.DefaultMetricsConfig())
	if err != nil {
		fmt.Fprintln(os.Stderr, "provider: metrics:", err)
		os.Exit(1)
	}
	tracer, err := otel.NewTracer(otel.DefaultConfig())
	if err != nil {
		fmt.Fprintln(os.Stderr, "provider: tracer:", err)
		os.Exit(1)
	}
	defer tracer.Shutdown(context.Background())
	defer metrics.Shutdown(context.Background())

	numWorkers := len(cfg.Threads)
	workers := make([]*worker.ProviderWorker, numWorkers)
	sources := make([]aggregator.WorkerSource, numWorkers)

	for i := 0; i < numWorkers; i++ {
		id := i + 1
		conn, err := ln.Accept()
		if err != nil {
			fmt.Fprintf(os.Stderr, "provider %d: accept: %v\n", id, err)
			os.Exit(1)
		}

		sched, err := buildProviderScheduler(&cfg.ProviderCommon, id)
		if err != nil {
			fmt.Fprintln(os.Stderr, "provider:", err)
			os.Exit(1)
		}

		registry := itemstate.New(0, cfg.ItemCount, cfg.PostingRate > 0)
		sess := session.NewProvider(cfg.ProviderName, cfg.ServiceName, cfg.PostingRate > 0)
		pw := worker.NewProviderWorker(id, nettransport.New(conn), clk, sd, cfg.TickRate, cfg.PingIntervalSec,
			sess, registry, templates, sched, domain, cfg.MaxPackCount, cfg.PackBufSize)
		workers[i] = pw
		sources[i] = pw
	}

	agg, err := aggregator.New(aggregator.Config{
		WriteStatsInterval:   time.Duration(cfg.WriteStatsInterval) * time.Second,
		SteadyStateTime:      time.Duration(cfg.SteadyStateTime) * time.Second,
		DelaySteadyStateCalc: time.Duration(cfg.DelaySteadyStateCalc) * time.Millisecond,
		RunTime:              time.Duration(cfg.RunTime) * time.Second,
		MultiThread:          numWorkers > 1,
		StatsFileBase:        cfg.StatsFile,
		SummaryFile:          cfg.SummaryFile,
		ServiceLabel:         "provider",
	}, clk, epoch, sampler, metrics, sources)
	if err != nil {
		fmt.Fprintln(os.Stderr, "provider:", err)
		os.Exit(1)
	}
	defer agg.Close()

	var wg sync.WaitGroup
	for i, pw := range workers {
		wg.Add(1)
		go runProvider(pw, cfg.Threads[i], sd, agg, &wg)
	}

	if err := agg.RunLoop(sd); err != nil {
		fmt.Fprintln(os.Stderr, "provider:", err)
	}
	sd.Set()
	wg.Wait()
}

func runProvider(pw *worker.ProviderWorker, core int, sd *control.Shutdown, agg *aggregator.Aggregator, wg *sync.WaitGroup) {
	defer wg.Done()
	defer pw.Channel.Close()

	if err := resource.BindThread(core); err != nil {
		fmt.Fprintf(os.Stderr, "provider %d: bind thread to core %d: %v\n", pw.WorkerID(), core, err)
	}

	if err := pw.Accept(); err != nil {
		agg.RecordFailure(pw.WorkerID(), err)
		pw.Session.Fail(err)
		sd.Set()
		return
	}

	nanosPerTick := clock.NanosPerTick(pw.TicksPerSec)
	for tickIndex := 0; !sd.IsSet(); tickIndex++ {
		deadline := pw.Clock.NowNanos() + nanosPerTick
		if err := pw.Tick(tickIndex, deadline); err != nil {
			agg.RecordFailure(pw.WorkerID(), err)
			pw.Session.Fail(err)
			sd.Set()
			return
		}
		sleepUntil(pw.Clock, deadline)
	}
	pw.Session.Shutdown()
}

func sleepUntil(clk *clock.Source, deadlineNanos int64) {
	if remaining := deadlineNanos - clk.NowNanos(); remaining > 0 {
		time.Sleep(time.Duration(remaining))
	}
}

func loadTemplateFile(path string) (*template.Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template file: %w", err)
	}
	defer f.Close()
	return template.Load(f)
}

func buildProviderScheduler(cfg *config.ProviderCommon, workerID int) (*scheduler.Scheduler, error) {
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
