// Package resource samples the own-process CPU fraction and resident
// set size that the aggregator folds into each stats row (spec.md
// §6.4 "CPU usage" / "memory usage" columns). Grounded on the
// teacher's cmd/agent process-metrics collection
// (process.NewProcess(pid).CPUPercent()/.MemoryInfo().RSS), narrowed
// here to the single process the tool itself runs as.
package resource

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
)

// Sampler reads CPU and memory usage for the current process.
type Sampler struct {
	proc    *process.Process
	numCPU  int
}

// NewSampler opens a handle on the current process.
func NewSampler() (*Sampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Sampler{proc: p, numCPU: runtime.NumCPU()}, nil
}

// Sample is one point-in-time resource reading.
type Sample struct {
	// CPUFraction is process CPU time as a fraction of one core-second
	// per wall-clock second, normalized by core count so 1.0 means "all
	// cores fully busy" rather than "one core fully busy" (spec.md §6.4:
	// "expressed as a fraction of total available CPU").
	CPUFraction float64
	RSSBytes    uint64
}

// Read takes one reading. CPUPercent from gopsutil is already
// normalized against wall-clock time since the process last reported,
// scaled here to [0,1] per CPU so multi-core usage can exceed 1.0
// before the final division by core count.
func (s *Sampler) Read() (Sample, error) {
	cpuPct, err := s.proc.CPUPercent()
	if err != nil {
		return Sample{}, err
	}
	var rss uint64
	if mem, merr := s.proc.MemoryInfo(); merr == nil && mem != nil {
		rss = mem.RSS
	}
	fraction := cpuPct / 100.0
	if s.numCPU > 0 {
		fraction /= float64(s.numCPU)
	}
	return Sample{CPUFraction: fraction, RSSBytes: rss}, nil
}
