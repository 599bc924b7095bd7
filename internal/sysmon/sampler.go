// Package sysmon samples host and load-generator resource usage while
// a job runs. Peak values are folded into the job's extensible counter
// map; the counter catalog decides which of them are persisted.
package sysmon

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/perfharness/loaddriver/internal/config"
	"github.com/perfharness/loaddriver/internal/types"
)

// Counter names under which peak samples are reported.
const (
	CounterHostCPU      = "Host CPU (%)"
	CounterHostMemUsed  = "Host Memory Used (MB)"
	CounterLoadAverage  = "Load Average (1m)"
	CounterGeneratorCPU = "Generator CPU (%)"
	CounterGeneratorRSS = "Generator RSS (MB)"
)

// Counters lists every counter name the sampler can produce, in the
// shape the metrics writer's catalog expects.
func Counters() []string {
	return []string{
		CounterHostCPU,
		CounterHostMemUsed,
		CounterLoadAverage,
		CounterGeneratorCPU,
		CounterGeneratorRSS,
	}
}

// Sampler periodically collects host metrics and, when a PID is given,
// process metrics for the load generator, keeping the peak of each.
type Sampler struct {
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	peaks map[string]float64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSampler creates a sampler. A nil logger discards output.
func NewSampler(interval time.Duration, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = config.DefaultSampleInterval
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Sampler{
		interval: interval,
		logger:   logger,
		peaks:    make(map[string]float64),
	}
}

// Start begins sampling in the background until Stop or context
// cancellation. pid identifies the generator process; zero skips the
// per-process metrics.
func (s *Sampler) Start(ctx context.Context, pid int) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	var proc *process.Process
	if pid > 0 {
		p, err := process.NewProcess(int32(pid))
		if err != nil {
			s.logger.Warn("generator process not observable", "pid", pid, "error", err)
		} else {
			proc = p
		}
	}

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sampleOnce(proc)
			}
		}
	}()
}

// Stop ends sampling and waits for the collector to finish.
func (s *Sampler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// sampleOnce collects one round of metrics and updates the peaks.
// Collection failures are logged and skipped; a sampler must never
// disturb the job it observes.
func (s *Sampler) sampleOnce(proc *process.Process) {
	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		s.record(CounterHostCPU, cpuPercent[0])
	}
	if memInfo, err := mem.VirtualMemory(); err == nil && memInfo != nil {
		s.record(CounterHostMemUsed, float64(memInfo.Used)/(1024*1024))
	}
	if loadAvg, err := load.Avg(); err == nil && loadAvg != nil {
		s.record(CounterLoadAverage, loadAvg.Load1)
	}

	if proc == nil {
		return
	}
	if cpuPercent, err := proc.CPUPercent(); err == nil {
		s.record(CounterGeneratorCPU, cpuPercent)
	}
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		s.record(CounterGeneratorRSS, float64(memInfo.RSS)/(1024*1024))
	}
}

func (s *Sampler) record(name string, value float64) {
	s.mu.Lock()
	if value > s.peaks[name] {
		s.peaks[name] = value
	}
	s.mu.Unlock()
}

// Peaks returns a copy of the peak samples collected so far.
func (s *Sampler) Peaks() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.peaks))
	for name, value := range s.peaks {
		out[name] = value
	}
	return out
}

// FoldInto copies the peak samples into the statistics record's
// extensible counter map.
func (s *Sampler) FoldInto(stats *types.Statistics) {
	if stats.Other == nil {
		stats.Other = make(map[string]float64)
	}
	for name, value := range s.Peaks() {
		stats.Other[name] = value
	}
}
