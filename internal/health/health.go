// Package health periodically samples process resource usage the way the
// teacher's ResourceGuard.UpdateResources/StartMonitoring does, feeding both
// structured logs and the Prometheus gauges in internal/metrics.
package health

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/adred-codev/replayrelay/internal/metrics"
)

// Snapshot is the most recently sampled resource usage.
type Snapshot struct {
	CPUPercent float64
	RSSBytes   uint64
	Goroutines int
	SampledAt  time.Time
}

// Sampler owns the current Snapshot and keeps internal/metrics' gauges in
// sync with it on each tick.
type Sampler struct {
	registry *metrics.Registry
	logger   zerolog.Logger

	mu   sync.RWMutex
	last Snapshot
}

// NewSampler builds a Sampler reporting into reg.
func NewSampler(reg *metrics.Registry, logger zerolog.Logger) *Sampler {
	return &Sampler{registry: reg, logger: logger}
}

// Snapshot returns the most recently collected sample.
func (s *Sampler) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Run samples resource usage every interval until ctx is cancelled, matching
// the teacher's StartMonitoring/UpdateResources split. cpu.Percent's own
// 100ms blocking sample dominates each tick's cost, same tradeoff the
// teacher documents (short enough to not stall, long enough to be accurate).
func (s *Sampler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	pct, err := cpu.Percent(100*time.Millisecond, false)
	cpuPercent := 0.0
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to sample cpu usage")
	} else if len(pct) > 0 {
		cpuPercent = pct[0]
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	goroutines := runtime.NumGoroutine()

	snap := Snapshot{
		CPUPercent: cpuPercent,
		RSSBytes:   mem.Sys,
		Goroutines: goroutines,
		SampledAt:  time.Now(),
	}

	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()

	if s.registry != nil {
		s.registry.ProcessCPUPercent.Set(cpuPercent)
		s.registry.ProcessRSSBytes.Set(float64(mem.Sys))
		s.registry.GoroutinesActive.Set(float64(goroutines))
	}

	s.logger.Debug().
		Float64("cpu_percent", cpuPercent).
		Uint64("rss_bytes", mem.Sys).
		Int("goroutines", goroutines).
		Msg("resource sample")
}
