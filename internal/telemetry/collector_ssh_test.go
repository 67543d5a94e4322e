package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stone-age-io/hostprobe/internal/sshexec"
	"go.uber.org/zap"
)

const psFixture = `USER   PID %CPU %MEM    VSZ   RSS TTY  STAT START   TIME COMMAND
root     1  0.0  0.1 167744 11904 ?    Ss   Jan01   1:23 /sbin/init
app   4242 42.0  3.1 912345 51234 ?    Sl   Jan02  99:59 /usr/bin/appserver

`

// scriptedRunner replays canned command results in call order.
type scriptedRunner struct {
	results []scriptedResult
	calls   []string
}

type scriptedResult struct {
	exitCode int
	output   string
	err      error
}

func (r *scriptedRunner) Run(ctx context.Context, command string) (int, string, error) {
	r.calls = append(r.calls, command)
	if len(r.results) == 0 {
		return 0, "", nil
	}
	res := r.results[0]
	r.results = r.results[1:]
	return res.exitCode, res.output, res.err
}

// TestSSHCollector_CollectLinux tests the full Linux recipe against fixtures
func TestSSHCollector_CollectLinux(t *testing.T) {
	runner := &scriptedRunner{results: []scriptedResult{
		{output: mpstatFixture},
		{output: freeFixture},
		{output: dfLinuxFixture},
		{output: psFixture},
	}}
	collector := NewSSHCollector(runner, PlatformLinux, zap.NewNop())

	snapshot, err := collector.CollectLinux(context.Background())
	if err != nil {
		t.Fatalf("CollectLinux failed: %v", err)
	}

	if snapshot.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
	if !almostEqual(snapshot.CPU.UsagePercent, 6.00) {
		t.Errorf("CPU.UsagePercent = %v, want 6.00", snapshot.CPU.UsagePercent)
	}
	if snapshot.Memory.TotalMB != 15995 || snapshot.Memory.UsedMB != 9054 {
		t.Errorf("Memory = %+v", snapshot.Memory)
	}
	if len(snapshot.Disks) != 2 {
		t.Errorf("len(Disks) = %d, want 2", len(snapshot.Disks))
	}
	if len(snapshot.TopProcesses) != 3 {
		t.Errorf("len(TopProcesses) = %d, want 3 (blank lines dropped)", len(snapshot.TopProcesses))
	}
	if snapshot.Network != (NetworkStat{}) {
		t.Errorf("Network = %+v, want zero stub", snapshot.Network)
	}

	if len(runner.calls) != 4 {
		t.Fatalf("len(calls) = %d, want 4", len(runner.calls))
	}
	if !strings.Contains(runner.calls[0], "mpstat") || !strings.Contains(runner.calls[0], "||") {
		t.Errorf("cpu command missing fallback chain: %q", runner.calls[0])
	}
	if runner.calls[1] != "free -m" {
		t.Errorf("memory command = %q", runner.calls[1])
	}
	if runner.calls[2] != "df -hT" {
		t.Errorf("disk command = %q", runner.calls[2])
	}
	if !strings.Contains(runner.calls[3], "ps aux") {
		t.Errorf("process command = %q", runner.calls[3])
	}
}

// TestSSHCollector_CollectDarwin tests the full Darwin recipe against fixtures
func TestSSHCollector_CollectDarwin(t *testing.T) {
	runner := &scriptedRunner{results: []scriptedResult{
		{output: topDarwinFixture},
		{output: vmStatFixture},
		{output: dfDarwinFixture},
		{output: psFixture},
	}}
	collector := NewSSHCollector(runner, PlatformDarwin, zap.NewNop())

	snapshot, err := collector.CollectDarwin(context.Background())
	if err != nil {
		t.Fatalf("CollectDarwin failed: %v", err)
	}

	if !almostEqual(snapshot.CPU.UsagePercent, 100-80.39) {
		t.Errorf("CPU.UsagePercent = %v, want %v", snapshot.CPU.UsagePercent, 100-80.39)
	}
	if snapshot.Memory.TotalMB != 2070 || snapshot.Memory.FreeMB != 390 {
		t.Errorf("Memory = %+v", snapshot.Memory)
	}
	if len(snapshot.Disks) != 1 {
		t.Errorf("len(Disks) = %d, want 1", len(snapshot.Disks))
	}

	if runner.calls[1] != "vm_stat" {
		t.Errorf("memory command = %q", runner.calls[1])
	}
	if runner.calls[2] != "df -h" {
		t.Errorf("disk command = %q", runner.calls[2])
	}
}

// TestSSHCollector_TransportErrorAborts verifies a transport failure stops
// the cycle immediately with no partial snapshot and no further commands
func TestSSHCollector_TransportErrorAborts(t *testing.T) {
	authErr := sshexec.ErrAuthFailed
	runner := &scriptedRunner{results: []scriptedResult{
		{exitCode: -1, err: authErr},
	}}
	collector := NewSSHCollector(runner, PlatformLinux, zap.NewNop())

	snapshot, err := collector.CollectLinux(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, sshexec.ErrAuthFailed) {
		t.Errorf("error = %v, want auth failure to be inspectable", err)
	}
	if snapshot != nil {
		t.Errorf("snapshot = %+v, want nil (no partial results)", snapshot)
	}
	if len(runner.calls) != 1 {
		t.Errorf("len(calls) = %d, want 1 (subsequent commands skipped)", len(runner.calls))
	}
}

// TestSSHCollector_ParseFailureDegrades verifies unparsable output degrades
// to zero-valued metrics instead of aborting the cycle
func TestSSHCollector_ParseFailureDegrades(t *testing.T) {
	runner := &scriptedRunner{results: []scriptedResult{
		{exitCode: 127, output: "bash: mpstat: command not found"},
		{output: freeFixture},
		{output: dfLinuxFixture},
		{output: psFixture},
	}}
	collector := NewSSHCollector(runner, PlatformLinux, zap.NewNop())

	snapshot, err := collector.CollectLinux(context.Background())
	if err != nil {
		t.Fatalf("CollectLinux failed: %v", err)
	}

	if snapshot.CPU.UsagePercent != 0 {
		t.Errorf("CPU.UsagePercent = %v, want 0", snapshot.CPU.UsagePercent)
	}
	// The rest of the snapshot is still populated.
	if snapshot.Memory.TotalMB != 15995 {
		t.Errorf("Memory.TotalMB = %d, want 15995", snapshot.Memory.TotalMB)
	}
	if len(snapshot.Disks) != 2 {
		t.Errorf("len(Disks) = %d, want 2", len(snapshot.Disks))
	}
}

// TestSSHCollector_Collect dispatches on the configured platform
func TestSSHCollector_Collect(t *testing.T) {
	runner := &scriptedRunner{}
	collector := NewSSHCollector(runner, Platform("plan9"), zap.NewNop())

	if _, err := collector.Collect(context.Background()); err == nil {
		t.Error("expected error for unsupported platform")
	}

	collector = NewSSHCollector(runner, PlatformLinux, zap.NewNop())
	if _, err := collector.Collect(context.Background()); err != nil {
		t.Errorf("Collect on linux failed: %v", err)
	}
}

// TestNewCollector tests the source-based factory
func TestNewCollector(t *testing.T) {
	logger := zap.NewNop()
	runner := &scriptedRunner{}

	c, err := NewCollector("", runner, PlatformLinux, "", logger, nil)
	if err != nil {
		t.Fatalf("default source failed: %v", err)
	}
	if !strings.Contains(c.Name(), "ssh") {
		t.Errorf("Name() = %q, expected ssh collector", c.Name())
	}

	c, err = NewCollector("exporter", nil, PlatformLinux, "http://localhost:9100/metrics", logger, nil)
	if err != nil {
		t.Fatalf("exporter source failed: %v", err)
	}
	if !strings.Contains(c.Name(), "exporter") {
		t.Errorf("Name() = %q, expected exporter collector", c.Name())
	}

	if _, err := NewCollector("exporter", nil, PlatformLinux, "", logger, nil); err == nil {
		t.Error("expected error for exporter source without url")
	}

	if _, err := NewCollector("carrier-pigeon", runner, PlatformLinux, "", logger, nil); err == nil {
		t.Error("expected error for unknown source")
	}
}
