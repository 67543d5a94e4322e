package scheduler

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stone-age-io/hostprobe/internal/utils"
	"go.uber.org/zap"
)

// Heartbeat is the probe's own liveness payload: not remote telemetry but the
// health of the machine the probe runs on, plus collection counters.
type Heartbeat struct {
	Version         string  `json:"version"`
	Timestamp       string  `json:"timestamp"`
	UptimeSeconds   int64   `json:"uptime_seconds"`
	Goroutines      int     `json:"goroutines"`
	CPUUsagePercent float64 `json:"cpu_usage_percent"`
	MemoryUsedPct   float64 `json:"memory_used_percent"`
	Collections     int64   `json:"collections"`
	Failures        int64   `json:"failures"`
	LastCollection  string  `json:"last_collection,omitempty"`
	LastError       string  `json:"last_error,omitempty"`
	LastErrorTime   string  `json:"last_error_time,omitempty"`
}

// buildHeartbeat assembles the heartbeat from local gopsutil readings and the
// task counters. Local readings are best-effort; a failed reading stays zero.
func (s *Scheduler) buildHeartbeat(ctx context.Context) *Heartbeat {
	hb := &Heartbeat{
		Version:    s.version,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Goroutines: runtime.NumGoroutine(),
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		s.logger.Debug("Failed to read local CPU usage", zap.Error(err))
	} else if len(percents) > 0 {
		hb.CPUUsagePercent = utils.Round(percents[0])
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		s.logger.Debug("Failed to read local memory usage", zap.Error(err))
	} else {
		hb.MemoryUsedPct = utils.Round(vm.UsedPercent)
	}

	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()

	hb.UptimeSeconds = int64(time.Since(s.stats.startTime).Seconds())
	hb.Collections = s.stats.collectionCount
	hb.Failures = s.stats.failureCount
	if !s.stats.lastCollection.IsZero() {
		hb.LastCollection = s.stats.lastCollection.Format(time.RFC3339)
	}
	if !s.stats.lastErrorTime.IsZero() {
		hb.LastError = s.stats.lastError
		hb.LastErrorTime = s.stats.lastErrorTime.Format(time.RFC3339)
	}

	return hb
}
