package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// HealthSample is a point-in-time read of host resource usage, taken
// alongside a Stats snapshot so callers can correlate worker throughput
// with host pressure.
type HealthSample struct {
	CPUPercent    float64
	MemUsedBytes  uint64
	MemTotalBytes uint64
	SampledAt     time.Time
}

// SampleHealth reads current CPU and memory usage via gopsutil. It
// returns a zero-value sample and the underlying error on failure; the
// caller decides whether that is fatal.
func SampleHealth(ctx context.Context) (HealthSample, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return HealthSample{}, err
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HealthSample{}, err
	}
	var cpuPct float64
	if len(percents) > 0 {
		cpuPct = percents[0]
	}
	return HealthSample{
		CPUPercent:    cpuPct,
		MemUsedBytes:  vm.Used,
		MemTotalBytes: vm.Total,
		SampledAt:     time.Now(),
	}, nil
}

// healthSampler runs SampleHealth on a ticker and keeps the latest
// reading available for Scheduler.Health, logging it at human-readable
// byte/percent scale so operators reading logs don't have to do the
// arithmetic themselves.
type healthSampler struct {
	interval time.Duration
	sched    *Scheduler

	mu      sync.RWMutex
	last    HealthSample
	stopped atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newHealthSampler(interval time.Duration, s *Scheduler) *healthSampler {
	return &healthSampler{
		interval: interval,
		sched:    s,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (h *healthSampler) start() {
	go func() {
		defer close(h.doneCh)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		h.sample()
		for {
			select {
			case <-h.stopCh:
				return
			case <-ticker.C:
				h.sample()
			}
		}
	}()
}

func (h *healthSampler) stop() {
	if h.stopped.CompareAndSwap(false, true) {
		close(h.stopCh)
	}
	<-h.doneCh
}

func (h *healthSampler) sample() {
	sample, err := SampleHealth(context.Background())
	if err != nil {
		h.sched.logger.Warn("scheduler.health.sample_failed", "error", err)
		return
	}
	h.mu.Lock()
	h.last = sample
	h.mu.Unlock()
	h.sched.logger.Debug("scheduler.health.sample",
		"cpu_percent", sample.CPUPercent,
		"mem_used", humanize.Bytes(sample.MemUsedBytes),
		"mem_total", humanize.Bytes(sample.MemTotalBytes),
	)
}

func (h *healthSampler) snapshot() HealthSample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}
