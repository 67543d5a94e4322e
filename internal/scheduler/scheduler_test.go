package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stone-age-io/hostprobe/internal/config"
	"github.com/stone-age-io/hostprobe/internal/telemetry"
	"go.uber.org/zap"
)

type fakeCollector struct {
	snapshot *telemetry.HostSnapshot
	err      error
	calls    int
}

func (f *fakeCollector) Collect(ctx context.Context) (*telemetry.HostSnapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

func (f *fakeCollector) Name() string { return "fake" }

type fakePublisher struct {
	snapshots  []string
	heartbeats int
	err        error
}

func (f *fakePublisher) PublishSnapshot(hostName string, snapshot interface{}) error {
	f.snapshots = append(f.snapshots, hostName)
	return f.err
}

func (f *fakePublisher) PublishHeartbeat(payload interface{}) error {
	f.heartbeats++
	return f.err
}

func testConfig() *config.Config {
	return &config.Config{
		SSH: config.SSHConfig{CommandTimeout: 30 * time.Second},
		Collection: config.CollectionConfig{
			Interval:          time.Minute,
			HeartbeatInterval: 5 * time.Minute,
		},
	}
}

func newTestScheduler(t *testing.T, targets []Target, pub Publisher) *Scheduler {
	t.Helper()
	s, err := New(zap.NewNop(), testConfig(), targets, pub, "test", context.Background())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestScheduler_Collect_PublishesSnapshot(t *testing.T) {
	collector := &fakeCollector{
		snapshot: &telemetry.HostSnapshot{
			Timestamp: time.Now(),
			CPU:       telemetry.CPUStat{UsagePercent: 42.5},
		},
	}
	pub := &fakePublisher{}
	target := Target{Name: "web-01", Collector: collector}

	s := newTestScheduler(t, []Target{target}, pub)
	s.collect(target)

	if collector.calls != 1 {
		t.Errorf("collector called %d times, want 1", collector.calls)
	}
	if len(pub.snapshots) != 1 || pub.snapshots[0] != "web-01" {
		t.Errorf("published snapshots = %v, want [web-01]", pub.snapshots)
	}

	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()
	if s.stats.collectionCount != 1 || s.stats.failureCount != 0 {
		t.Errorf("stats = %d collections, %d failures", s.stats.collectionCount, s.stats.failureCount)
	}
	if s.stats.lastCollection.IsZero() {
		t.Error("lastCollection not recorded")
	}
}

func TestScheduler_Collect_FailureSkipsPublish(t *testing.T) {
	collector := &fakeCollector{err: errors.New("connection refused")}
	pub := &fakePublisher{}
	target := Target{Name: "web-01", Collector: collector}

	s := newTestScheduler(t, []Target{target}, pub)
	s.collect(target)

	if len(pub.snapshots) != 0 {
		t.Errorf("failed cycle must not publish, got %v", pub.snapshots)
	}

	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()
	if s.stats.failureCount != 1 {
		t.Errorf("failureCount = %d, want 1", s.stats.failureCount)
	}
	if s.stats.lastError != "connection refused" {
		t.Errorf("lastError = %q", s.stats.lastError)
	}
}

func TestScheduler_Collect_NilPublisher(t *testing.T) {
	collector := &fakeCollector{snapshot: &telemetry.HostSnapshot{}}
	target := Target{Name: "web-01", Collector: collector}

	s := newTestScheduler(t, []Target{target}, nil)
	s.collect(target)

	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()
	if s.stats.collectionCount != 1 {
		t.Errorf("collectionCount = %d, want 1", s.stats.collectionCount)
	}
}

func TestScheduler_Heartbeat(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestScheduler(t, nil, pub)

	s.heartbeat()

	if pub.heartbeats != 1 {
		t.Errorf("heartbeats published = %d, want 1", pub.heartbeats)
	}

	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()
	if s.stats.lastHeartbeat.IsZero() {
		t.Error("lastHeartbeat not recorded")
	}
}

func TestBuildHeartbeat(t *testing.T) {
	collector := &fakeCollector{err: errors.New("host down")}
	target := Target{Name: "web-01", Collector: collector}
	s := newTestScheduler(t, []Target{target}, &fakePublisher{})

	s.collect(target)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hb := s.buildHeartbeat(ctx)

	if hb.Version != "test" {
		t.Errorf("Version = %q", hb.Version)
	}
	if hb.Collections != 1 || hb.Failures != 1 {
		t.Errorf("Collections = %d, Failures = %d", hb.Collections, hb.Failures)
	}
	if hb.LastError != "host down" {
		t.Errorf("LastError = %q", hb.LastError)
	}
	if hb.LastErrorTime == "" {
		t.Error("LastErrorTime should be set after a failure")
	}
	if hb.LastCollection != "" {
		t.Errorf("LastCollection = %q, want empty before any success", hb.LastCollection)
	}
	if hb.Goroutines <= 0 {
		t.Errorf("Goroutines = %d", hb.Goroutines)
	}
	if _, err := time.Parse(time.RFC3339, hb.Timestamp); err != nil {
		t.Errorf("Timestamp %q not RFC3339: %v", hb.Timestamp, err)
	}
}
