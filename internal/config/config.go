// Package config parses and validates the command-line configuration
// for all three tool variants (spec.md §6.1). Flags are long-form,
// dash-prefixed, and parsed with the standard library flag package,
// matching the teacher's cmd/agent and cmd/worker convention of a flat
// flag.FlagSet per binary rather than a third-party CLI framework (no
// cobra/pflag/urfave appears anywhere in the retrieved corpus).
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bc-dunia/marketperf/internal/randarray"
)

// ErrConfig wraps any flag-parse or cross-field validation failure.
// spec.md §4.13/§6.1: "Invalid flag, missing argument, or any
// cross-field constraint violation ... prints usage to stderr and
// exits with status 1." Callers in cmd/* turn this into that exit.
type ErrConfig struct {
	Msg string
}

func (e *ErrConfig) Error() string { return "config: " + e.Msg }

func cfgErrf(format string, args ...interface{}) error {
	return &ErrConfig{Msg: fmt.Sprintf(format, args...)}
}

// Common bundles the flags shared by every tool variant.
type Common struct {
	Threads []int // parsed -threads CPU_LIST; len(Threads) is the worker count

	ItemCount       int
	CommonItemCount int
	RequestRate     int
	Snapshot        bool

	PostingRate        int
	PostingLatencyRate int // -1 == randarray.Always ("all")
	GenericMsgRate     int
	GenericLatencyRate int

	TickRate int

	Username    string
	ServiceName string
	UseServiceID bool

	ItemFile    string
	MsgFile     string
	SummaryFile string
	StatsFile   string
	LatencyFile string

	WriteStatsInterval   int
	NoDisplayStats       bool
	SteadyStateTime      int
	DelaySteadyStateCalc int // milliseconds
	SnapshotCount        int // parsed only; no component reads it, so no run stops on a snapshot-refresh count

	NanoTime      bool
	MeasureEncode bool
	MeasureDecode bool

	// ConnectAddr/ListenAddr are not part of spec.md §6.1's flag list
	// (which covers only the domain-rate/file flags); every concrete
	// binary still needs somewhere to connect a socket, so these are
	// carried the same way the teacher's cmd/worker binds its own
	// ambient "-addr"-style connectivity flag alongside its domain ones.
	ConnectAddr string
	ListenAddr  string

	// PingIntervalSec configures the worker-level keepalive spec.md §4.10
	// describes ("next_send_ping_time"/"next_receive_ping_time"); the
	// underlying transport's own ping/compression/fragmentation handling
	// is out of scope (spec.md §1), but the worker still needs a
	// send/receive cadence to drive over coretransport.Channel. 0 disables
	// ping tracking entirely.
	PingIntervalSec int
}

// Consumer is the full consumer configuration.
type Consumer struct {
	Common
}

// ProviderCommon bundles the flags the interactive and non-interactive
// providers share on top of Common.
type ProviderCommon struct {
	Common

	UpdateRate       int
	LatencyUpdateRate int // -1 == randarray.Always ("all")
	RefreshBurstSize int
	MaxPackCount     int
	PackBufSize      int
	RunTime          int
	ProviderName     string
	PreEnc           bool

	// Domain is not one of spec.md §6.1's listed flags: a provider
	// worker answers whatever domain a consumer requests, but
	// internal/worker.ProviderWorker fixes one domain per connection for
	// its own streamed update/post/generic template lookups (spec.md §9's
	// per-stream-record design carries no per-worker domain list), so the
	// domain it streams in has to come from somewhere outside the wire.
	Domain string
}

// Provider is the interactive-provider configuration (identical shape
// to ProviderCommon; kept as a distinct type so cmd/provider and
// cmd/niprovider each construct their own, matching the teacher's
// per-binary flag-struct convention).
type Provider struct {
	ProviderCommon
}

// NIProvider is the non-interactive provider configuration.
type NIProvider struct {
	ProviderCommon
}

// parseThreadList parses "-threads CPU_LIST" per spec.md §6.1/§5: a
// comma-separated list of CPU core numbers, one worker thread per
// entry. "-1" entries mean "don't pin this thread" and are preserved as
// -1 so internal/resource's affinity call can treat them as a no-op.
func parseThreadList(s string) ([]int, error) {
	if s == "" {
		return nil, cfgErrf("-threads must name at least one core (use -1 for unpinned)")
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, cfgErrf("-threads: invalid core id %q: %v", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// parseLatencyRate parses a "-latency*Rate N|all" flag per spec.md
// §6.1, returning randarray.Always for the literal "all".
func parseLatencyRate(s string) (int, error) {
	if strings.EqualFold(s, "all") {
		return randarray.Always, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, cfgErrf("invalid latency rate %q: %v", s, err)
	}
	return n, nil
}

func bindCommon(fs *flag.FlagSet, c *Common) (threadsFlag, postLatFlag, genLatFlag *string) {
	threadsFlag = fs.String("threads", "-1", "comma-separated CPU_LIST, one worker per entry")
	fs.IntVar(&c.ItemCount, "itemCount", 1, "number of items to request per worker")
	fs.IntVar(&c.CommonItemCount, "commonItemCount", 0, "items shared across all worker threads (scenario S5)")
	fs.IntVar(&c.RequestRate, "requestRate", 1, "item requests per second per worker")
	fs.BoolVar(&c.Snapshot, "snapshot", false, "request items as non-streaming snapshots")
	fs.IntVar(&c.PostingRate, "postingRate", 0, "posts per second per worker")
	postLatFlag = fs.String("postingLatencyRate", "0", "latency-bearing posts per second, or 'all'")
	fs.IntVar(&c.GenericMsgRate, "genericMsgRate", 0, "generic messages per second per worker")
	genLatFlag = fs.String("genericMsgLatencyRate", "0", "latency-bearing generic messages per second, or 'all'")
	fs.IntVar(&c.TickRate, "tickRate", 1000, "scheduler ticks per second")
	fs.StringVar(&c.Username, "uname", "marketperf", "login username")
	fs.StringVar(&c.ServiceName, "serviceName", "DIRECT_FEED", "directory service name to subscribe through")
	fs.BoolVar(&c.UseServiceID, "useServiceId", false, "route requests by numeric service id instead of name (accepted; no component reads it)")
	fs.StringVar(&c.ItemFile, "itemFile", "350k.xml", "item-list XML path")
	fs.StringVar(&c.MsgFile, "msgFile", "MsgData.xml", "message-template XML path")
	fs.StringVar(&c.SummaryFile, "summaryFile", "summary.out", "final summary output path")
	fs.StringVar(&c.StatsFile, "statsFile", "Stats", "per-thread stats CSV base filename")
	fs.StringVar(&c.LatencyFile, "latencyFile", "", "per-thread latency-log CSV base filename (accepted; no latency log is written)")
	fs.IntVar(&c.WriteStatsInterval, "writeStatsInterval", 5, "seconds between stats rows")
	fs.BoolVar(&c.NoDisplayStats, "noDisplayStats", false, "suppress stdout stats printing (accepted; no component reads it)")
	fs.IntVar(&c.SteadyStateTime, "steadyStateTime", 300, "seconds to run after steady state is reached")
	fs.IntVar(&c.DelaySteadyStateCalc, "delaySteadyStateCalc", 5000, "milliseconds after image_retrieval_end before samples count as steady-state")
	fs.IntVar(&c.SnapshotCount, "snapshotCount", 0, "snapshot-refresh stop count (accepted; no run stops on it)")
	fs.BoolVar(&c.NanoTime, "nanoTime", false, "stamp/read nanosecond timestamps instead of microsecond (accepted; stamps are always microseconds)")
	fs.BoolVar(&c.MeasureEncode, "measureEncode", false, "time the encode step of each outbound message (accepted; no encode time is measured)")
	fs.BoolVar(&c.MeasureDecode, "measureDecode", false, "time the decode step of each inbound message (accepted; no decode time is measured)")
	fs.StringVar(&c.ConnectAddr, "connectAddr", "127.0.0.1:14002", "provider host:port to dial (consumer only)")
	fs.StringVar(&c.ListenAddr, "listenAddr", "127.0.0.1:14002", "host:port to listen on (provider/niprovider only)")
	fs.IntVar(&c.PingIntervalSec, "pingInterval", 30, "seconds between keepalive pings; 0 disables ping tracking")
	return
}

func bindProviderCommon(fs *flag.FlagSet, p *ProviderCommon) (threadsFlag, postLatFlag, genLatFlag, updLatFlag *string) {
	threadsFlag, postLatFlag, genLatFlag = bindCommon(fs, &p.Common)
	fs.IntVar(&p.UpdateRate, "updateRate", 0, "updates per second per stream rotation")
	updLatFlag = fs.String("latencyUpdateRate", "0", "latency-bearing updates per second, or 'all'")
	fs.IntVar(&p.RefreshBurstSize, "refreshBurstSize", 10, "refreshes drained from the pending-items list per tick (accepted; no component reads it)")
	fs.IntVar(&p.MaxPackCount, "maxPackCount", 1, "max messages accumulated into one packed submission")
	fs.IntVar(&p.PackBufSize, "packBufSize", 6000, "byte budget for one packed submission")
	fs.IntVar(&p.RunTime, "runTime", 300, "total run time in seconds")
	fs.StringVar(&p.ProviderName, "providerName", "marketperf-provider", "application name advertised at login")
	fs.BoolVar(&p.PreEnc, "preEnc", false, "pre-encode update payloads once and resend the buffer (accepted; no component reads it)")
	fs.StringVar(&p.Domain, "domain", "MarketPrice", "domain this provider streams updates/posts/generics in (MarketPrice|MarketByOrder)")
	return
}

// ParseConsumer parses consumer flags from args (normally os.Args[1:])
// and validates cross-field constraints.
func ParseConsumer(args []string, errOut io.Writer) (*Consumer, error) {
	fs := flag.NewFlagSet("marketperf-consumer", flag.ContinueOnError)
	fs.SetOutput(errOut)
	c := &Consumer{}
	threadsFlag, postLatFlag, genLatFlag := bindCommon(fs, &c.Common)
	if err := fs.Parse(args); err != nil {
		return nil, &ErrConfig{Msg: err.Error()}
	}
	if err := finishCommon(&c.Common, threadsFlag, postLatFlag, genLatFlag); err != nil {
		return nil, err
	}
	if err := c.Common.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseProvider parses interactive-provider flags.
func ParseProvider(args []string, errOut io.Writer) (*Provider, error) {
	fs := flag.NewFlagSet("marketperf-provider", flag.ContinueOnError)
	fs.SetOutput(errOut)
	p := &Provider{}
	threadsFlag, postLatFlag, genLatFlag, updLatFlag := bindProviderCommon(fs, &p.ProviderCommon)
	if err := fs.Parse(args); err != nil {
		return nil, &ErrConfig{Msg: err.Error()}
	}
	if err := finishProviderCommon(&p.ProviderCommon, threadsFlag, postLatFlag, genLatFlag, updLatFlag); err != nil {
		return nil, err
	}
	if err := p.ProviderCommon.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseNIProvider parses non-interactive-provider flags.
func ParseNIProvider(args []string, errOut io.Writer) (*NIProvider, error) {
	fs := flag.NewFlagSet("marketperf-niprovider", flag.ContinueOnError)
	fs.SetOutput(errOut)
	n := &NIProvider{}
	threadsFlag, postLatFlag, genLatFlag, updLatFlag := bindProviderCommon(fs, &n.ProviderCommon)
	if err := fs.Parse(args); err != nil {
		return nil, &ErrConfig{Msg: err.Error()}
	}
	if err := finishProviderCommon(&n.ProviderCommon, threadsFlag, postLatFlag, genLatFlag, updLatFlag); err != nil {
		return nil, err
	}
	if err := n.ProviderCommon.validate(); err != nil {
		return nil, err
	}
	return n, nil
}

func finishCommon(c *Common, threadsFlag, postLatFlag, genLatFlag *string) error {
	threads, err := parseThreadList(*threadsFlag)
	if err != nil {
		return err
	}
	c.Threads = threads

	postLat, err := parseLatencyRate(*postLatFlag)
	if err != nil {
		return err
	}
	c.PostingLatencyRate = postLat

	genLat, err := parseLatencyRate(*genLatFlag)
	if err != nil {
		return err
	}
	c.GenericLatencyRate = genLat
	return nil
}

func finishProviderCommon(p *ProviderCommon, threadsFlag, postLatFlag, genLatFlag, updLatFlag *string) error {
	if err := finishCommon(&p.Common, threadsFlag, postLatFlag, genLatFlag); err != nil {
		return err
	}
	updLat, err := parseLatencyRate(*updLatFlag)
	if err != nil {
		return err
	}
	p.LatencyUpdateRate = updLat
	return nil
}

// validate checks the cross-field constraints of spec.md §4.13 that
// apply to every variant.
func (c *Common) validate() error {
	if len(c.Threads) == 0 {
		return cfgErrf("-threads must list at least one core")
	}
	if c.ItemCount <= 0 {
		return cfgErrf("-itemCount must be > 0")
	}
	if c.CommonItemCount > c.ItemCount {
		return cfgErrf("-commonItemCount (%d) cannot exceed -itemCount (%d)", c.CommonItemCount, c.ItemCount)
	}
	if c.TickRate <= 0 {
		return cfgErrf("-tickRate must be > 0")
	}
	if c.PostingRate > 0 && c.Snapshot {
		return cfgErrf("posting (-postingRate > 0) is incompatible with -snapshot requests")
	}
	if c.PostingLatencyRate != randarray.Always && c.PostingLatencyRate > c.PostingRate {
		return cfgErrf("-postingLatencyRate (%d) cannot exceed -postingRate (%d)", c.PostingLatencyRate, c.PostingRate)
	}
	if c.GenericLatencyRate != randarray.Always && c.GenericLatencyRate > c.GenericMsgRate {
		return cfgErrf("-genericMsgLatencyRate (%d) cannot exceed -genericMsgRate (%d)", c.GenericLatencyRate, c.GenericMsgRate)
	}
	if c.GenericMsgRate > 0 && c.Snapshot {
		return cfgErrf("generic messages (-genericMsgRate > 0) are incompatible with -snapshot requests")
	}
	if c.WriteStatsInterval <= 0 {
		return cfgErrf("-writeStatsInterval must be > 0")
	}
	if c.DelaySteadyStateCalc < 0 {
		return cfgErrf("-delaySteadyStateCalc must be >= 0")
	}
	if c.PingIntervalSec < 0 {
		return cfgErrf("-pingInterval must be >= 0")
	}
	if c.ItemFile == "" {
		return cfgErrf("-itemFile is required")
	}
	if c.MsgFile == "" {
		return cfgErrf("-msgFile is required")
	}
	return nil
}

// validate extends Common's checks with the provider-only constraints.
func (p *ProviderCommon) validate() error {
	if err := p.Common.validate(); err != nil {
		return err
	}
	if p.LatencyUpdateRate != randarray.Always && p.LatencyUpdateRate > p.UpdateRate {
		return cfgErrf("-latencyUpdateRate (%d) cannot exceed -updateRate (%d)", p.LatencyUpdateRate, p.UpdateRate)
	}
	if p.MaxPackCount < 1 {
		return cfgErrf("-maxPackCount must be >= 1")
	}
	if p.MaxPackCount > 1 && p.PackBufSize <= 0 {
		return cfgErrf("-packBufSize must be > 0 when -maxPackCount > 1")
	}
	if p.RunTime <= 0 {
		return cfgErrf("-runTime must be > 0")
	}
	if p.Domain != "MarketPrice" && p.Domain != "MarketByOrder" {
		return cfgErrf("-domain must be MarketPrice or MarketByOrder, got %q", p.Domain)
	}
	return nil
}

// ErrUsage is returned by flag.FlagSet.Parse on -h/-help; callers in
// cmd/* should treat it the same as any other ErrConfig (print usage,
// exit 1) rather than exit 0, matching spec.md §6.1's "exits with
// status 1" for any flag problem.
var ErrUsage = flag.ErrHelp

// IsConfigError reports whether err originated from flag parsing or
// cross-field validation, the two cases spec.md §6.1/§4.13 route to
// "print usage, exit 1".
func IsConfigError(err error) bool {
	var ce *ErrConfig
	return errors.As(err, &ce) || errors.Is(err, flag.ErrHelp)
}
