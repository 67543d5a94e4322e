package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/stone-age-io/hostprobe/internal/config"
	"github.com/stone-age-io/hostprobe/internal/telemetry"
	"go.uber.org/zap"
)

// Target is one host scheduled for periodic collection.
type Target struct {
	Name      string
	Collector telemetry.Collector
}

// Publisher is the outbound boundary for collected telemetry. It is nil when
// publishing is disabled, in which case snapshots are only logged.
type Publisher interface {
	PublishSnapshot(hostName string, snapshot interface{}) error
	PublishHeartbeat(payload interface{}) error
}

// Scheduler runs the periodic collection cycle for every configured host plus
// the probe's own heartbeat. Cycles for different hosts are independent and
// may overlap; collectors are stateless between calls.
type Scheduler struct {
	logger    *zap.Logger
	scheduler gocron.Scheduler
	targets   []Target
	publisher Publisher
	timeout   time.Duration
	version   string
	ctx       context.Context
	stats     *TaskStats
}

// TaskStats tracks scheduled task execution for self-monitoring
type TaskStats struct {
	mu sync.RWMutex

	startTime       time.Time
	lastCollection  time.Time
	lastHeartbeat   time.Time
	collectionCount int64
	failureCount    int64
	lastError       string
	lastErrorTime   time.Time
}

// New creates a scheduler with one collection job per target and, when a
// publisher is configured, a heartbeat job.
func New(logger *zap.Logger, cfg *config.Config, targets []Target, publisher Publisher, version string, ctx context.Context) (*Scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	s := &Scheduler{
		logger:    logger,
		scheduler: gs,
		targets:   targets,
		publisher: publisher,
		timeout:   cfg.SSH.CommandTimeout,
		version:   version,
		ctx:       ctx,
		stats:     &TaskStats{startTime: time.Now()},
	}

	for _, t := range targets {
		target := t
		_, err := gs.NewJob(
			gocron.DurationJob(cfg.Collection.Interval),
			gocron.NewTask(func() { s.collect(target) }),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to schedule collection for %s: %w", target.Name, err)
		}
	}

	if publisher != nil {
		_, err := gs.NewJob(
			gocron.DurationJob(cfg.Collection.HeartbeatInterval),
			gocron.NewTask(s.heartbeat),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to schedule heartbeat: %w", err)
		}
	}

	return s, nil
}

// Start begins executing the scheduled jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("Scheduler started",
		zap.Int("targets", len(s.targets)),
		zap.Bool("publishing", s.publisher != nil))
}

// Stop shuts the scheduler down, waiting for running jobs to finish.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

// collect runs one collection cycle for a target. A cycle is bounded by the
// configured command timeout per command plus assembly, so one overall
// deadline of four times the command timeout is applied.
func (s *Scheduler) collect(target Target) {
	ctx, cancel := context.WithTimeout(s.ctx, 4*s.timeout)
	defer cancel()

	snapshot, err := target.Collector.Collect(ctx)
	if err != nil {
		s.recordFailure(err)
		s.logger.Error("Collection cycle failed",
			zap.String("host", target.Name),
			zap.String("collector", target.Collector.Name()),
			zap.Error(err))
		return
	}

	s.recordSuccess()
	s.logger.Info("Collected snapshot",
		zap.String("host", target.Name),
		zap.Float64("cpu_percent", snapshot.CPU.UsagePercent),
		zap.Uint64("memory_used_mb", snapshot.Memory.UsedMB),
		zap.Int("disk_count", len(snapshot.Disks)))

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishSnapshot(target.Name, snapshot); err != nil {
		s.logger.Error("Failed to publish snapshot",
			zap.String("host", target.Name),
			zap.Error(err))
	}
}

// heartbeat publishes the probe's own liveness and self-stats.
func (s *Scheduler) heartbeat() {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	payload := s.buildHeartbeat(ctx)
	if err := s.publisher.PublishHeartbeat(payload); err != nil {
		s.logger.Error("Failed to publish heartbeat", zap.Error(err))
		return
	}

	s.stats.mu.Lock()
	s.stats.lastHeartbeat = time.Now()
	s.stats.mu.Unlock()
}

func (s *Scheduler) recordSuccess() {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	s.stats.lastCollection = time.Now()
	s.stats.collectionCount++
}

func (s *Scheduler) recordFailure(err error) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	s.stats.collectionCount++
	s.stats.failureCount++
	s.stats.lastError = err.Error()
	s.stats.lastErrorTime = time.Now()
}
