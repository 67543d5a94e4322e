package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Diagnostic commands, one fixed recipe per platform family. The commands are
// plain human-oriented tools; their output goes through the parsers in
// parse.go, which tolerate version and locale skew by degrading to zeros.
const (
	// mpstat is not installed on minimal systems, so the recipe falls back
	// to the top summary header, which ParseCPU also understands.
	linuxCPUCommand     = "mpstat 1 1 2>/dev/null || top -bn1 | head -n 5"
	linuxMemoryCommand  = "free -m"
	linuxDiskCommand    = "df -hT"
	linuxProcessCommand = "ps aux --sort=-%cpu | head -n 11"

	darwinCPUCommand     = "top -l 1 -n 0 | head -n 15"
	darwinMemoryCommand  = "vm_stat"
	darwinDiskCommand    = "df -h"
	darwinProcessCommand = "ps aux -r | head -n 11"
)

// SSHCollector assembles snapshots by running diagnostic commands through a
// Runner and parsing their text output. It holds no state between cycles;
// every Collect is a fresh sequence of independent command executions, so one
// collector is safe to use from concurrent cycles.
type SSHCollector struct {
	runner   Runner
	platform Platform
	logger   *zap.Logger
}

// NewSSHCollector creates a command-driven collector for one host.
func NewSSHCollector(runner Runner, platform Platform, logger *zap.Logger) *SSHCollector {
	return &SSHCollector{
		runner:   runner,
		platform: platform,
		logger:   logger,
	}
}

func (c *SSHCollector) Name() string {
	return fmt.Sprintf("ssh (%s)", c.platform)
}

// Collect dispatches to the recipe for the configured platform.
func (c *SSHCollector) Collect(ctx context.Context) (*HostSnapshot, error) {
	switch c.platform {
	case PlatformLinux:
		return c.CollectLinux(ctx)
	case PlatformDarwin:
		return c.CollectDarwin(ctx)
	default:
		return nil, fmt.Errorf("unsupported platform: %q", c.platform)
	}
}

// CollectLinux runs the Linux toolchain recipe. A transport failure on any
// command aborts the cycle immediately with no partial snapshot; parse
// failures degrade the affected metric to its zero value.
func (c *SSHCollector) CollectLinux(ctx context.Context) (*HostSnapshot, error) {
	snapshot := &HostSnapshot{Timestamp: time.Now().UTC()}

	cpuOut, err := c.run(ctx, "cpu", linuxCPUCommand)
	if err != nil {
		return nil, err
	}
	snapshot.CPU = ParseCPU(cpuOut)

	memOut, err := c.run(ctx, "memory", linuxMemoryCommand)
	if err != nil {
		return nil, err
	}
	snapshot.Memory = ParseMemory(memOut, "")

	diskOut, err := c.run(ctx, "disks", linuxDiskCommand)
	if err != nil {
		return nil, err
	}
	snapshot.Disks = ParseDisks(diskOut)

	procOut, err := c.run(ctx, "processes", linuxProcessCommand)
	if err != nil {
		return nil, err
	}
	snapshot.TopProcesses = splitProcessLines(procOut)

	// Throughput has no command-based source yet; explicit zero stub.
	snapshot.Network = BuildNetworkStat(0, 0)

	c.logSnapshot(snapshot)
	return snapshot, nil
}

// CollectDarwin runs the macOS/BSD toolchain recipe with the same failure
// semantics as CollectLinux.
func (c *SSHCollector) CollectDarwin(ctx context.Context) (*HostSnapshot, error) {
	snapshot := &HostSnapshot{Timestamp: time.Now().UTC()}

	cpuOut, err := c.run(ctx, "cpu", darwinCPUCommand)
	if err != nil {
		return nil, err
	}
	snapshot.CPU = ParseCPU(cpuOut)

	memOut, err := c.run(ctx, "memory", darwinMemoryCommand)
	if err != nil {
		return nil, err
	}
	snapshot.Memory = ParseMemory("", memOut)

	diskOut, err := c.run(ctx, "disks", darwinDiskCommand)
	if err != nil {
		return nil, err
	}
	snapshot.Disks = ParseDisks(diskOut)

	procOut, err := c.run(ctx, "processes", darwinProcessCommand)
	if err != nil {
		return nil, err
	}
	snapshot.TopProcesses = splitProcessLines(procOut)

	snapshot.Network = BuildNetworkStat(0, 0)

	c.logSnapshot(snapshot)
	return snapshot, nil
}

// run executes one recipe step, attributing any transport failure to the
// metric it was collecting. Non-zero exits are logged and the output is still
// handed to the parser: fallback chains ("a || b") and tools that mix streams
// can exit non-zero while emitting usable text.
func (c *SSHCollector) run(ctx context.Context, metric, command string) (string, error) {
	exitCode, output, err := c.runner.Run(ctx, command)
	if err != nil {
		return "", fmt.Errorf("%s command failed: %w", metric, err)
	}

	if exitCode != 0 {
		c.logger.Warn("Diagnostic command exited non-zero",
			zap.String("metric", metric),
			zap.String("command", command),
			zap.Int("exit_code", exitCode))
	}

	return output, nil
}

func (c *SSHCollector) logSnapshot(s *HostSnapshot) {
	c.logger.Debug("Snapshot assembled",
		zap.String("platform", string(c.platform)),
		zap.Float64("cpu_percent", s.CPU.UsagePercent),
		zap.Uint64("memory_total_mb", s.Memory.TotalMB),
		zap.Int("disk_count", len(s.Disks)),
		zap.Int("process_lines", len(s.TopProcesses)))
}

// splitProcessLines keeps the process listing as raw text lines, dropping
// blanks and trailing carriage returns.
func splitProcessLines(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
