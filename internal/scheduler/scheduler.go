// Package scheduler implements the rate-shaped scheduler (C10): per-tick
// burst sizing for requests, updates, posts, and generics, plus the
// latency sub-index selection that decides which message within a
// burst should carry a timestamp. The tick-loop driving this lives in
// internal/worker (C12); this package only answers "how many of each
// class this tick, and which one (if any) is latency-bearing".
package scheduler

import (
	"github.com/bc-dunia/marketperf/internal/clock"
	"github.com/bc-dunia/marketperf/internal/randarray"
)

// Rate bundles one traffic class's per-second target with its latency
// sub-rate and the random array used to select which burst member
// carries a stamp.
type Rate struct {
	PerSec        int
	LatencyPerSec int
	array         *randarray.Array
}

// NewRate builds a Rate. If latencyPerSec == randarray.Always, every
// message in the burst carries a stamp and no array is constructed
// (spec.md §4.4 edge case: "ALWAYS ... bypasses the random array").
// If perSec == 0 the rate is inert (Burst always returns 0).
func NewRate(perSec, latencyPerSec, ticksPerSec, setCount int, seed int64) (*Rate, error) {
	r := &Rate{PerSec: perSec, LatencyPerSec: latencyPerSec}
	if perSec == 0 || latencyPerSec == 0 || latencyPerSec == randarray.Always {
		return r, nil
	}
	arr, err := randarray.New(perSec, latencyPerSec, ticksPerSec, setCount, seed)
	if err != nil {
		return nil, err
	}
	r.array = arr
	return r, nil
}

// burstForTick computes this tick's burst size and latency-bearing
// sub-index for the rate, given the tick rate and current tick index.
func (r *Rate) burstForTick(ticksPerSec, tickIndex int) (count, latencySubIdx int) {
	if r == nil || r.PerSec == 0 {
		return 0, randarray.None
	}
	count = clock.Burst(r.PerSec, ticksPerSec, tickIndex)
	switch {
	case r.LatencyPerSec == randarray.Always:
		latencySubIdx = 0 // every message in the burst is latency-bearing; caller stamps all.
	case r.array != nil:
		latencySubIdx = r.array.Next()
	default:
		latencySubIdx = randarray.None
	}
	return count, latencySubIdx
}

// AlwaysLatency reports whether every message of this rate's class
// should carry a stamp this tick (the ALWAYS sentinel case).
func (r *Rate) AlwaysLatency() bool {
	return r != nil && r.LatencyPerSec == randarray.Always
}

// Config bundles the four traffic classes a worker's scheduler drives.
// A consumer typically uses Requests/Posts/Generics; a provider uses
// Updates only (see internal/worker for the per-variant wiring).
type Config struct {
	TicksPerSec int
	Requests    *Rate
	Posts       *Rate
	Generics    *Rate
	Updates     *Rate
}

// Burst is one tick's computed dispatch plan.
type Burst struct {
	RequestCount int
	PostCount    int
	GenericCount int
	UpdateCount  int

	RequestLatencySubIdx int
	PostLatencySubIdx    int
	GenericLatencySubIdx int
	UpdateLatencySubIdx  int
}

// Scheduler computes per-tick Bursts for the full tick-loop lifetime.
type Scheduler struct {
	cfg Config
}

// New builds a Scheduler from cfg.
func New(cfg Config) *Scheduler {
	return &Scheduler{cfg: cfg}
}

// Tick returns the burst plan for tickIndex (spec.md §4.8 "send_bursts").
func (s *Scheduler) Tick(tickIndex int) Burst {
	var b Burst
	b.RequestCount, b.RequestLatencySubIdx = s.cfg.Requests.burstForTick(s.cfg.TicksPerSec, tickIndex)
	b.PostCount, b.PostLatencySubIdx = s.cfg.Posts.burstForTick(s.cfg.TicksPerSec, tickIndex)
	b.GenericCount, b.GenericLatencySubIdx = s.cfg.Generics.burstForTick(s.cfg.TicksPerSec, tickIndex)
	b.UpdateCount, b.UpdateLatencySubIdx = s.cfg.Updates.burstForTick(s.cfg.TicksPerSec, tickIndex)
	return b
}
