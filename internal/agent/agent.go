package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/stone-age-io/hostprobe/internal/config"
	"github.com/stone-age-io/hostprobe/internal/natspub"
	"github.com/stone-age-io/hostprobe/internal/scheduler"
	"github.com/stone-age-io/hostprobe/internal/sshexec"
	"github.com/stone-age-io/hostprobe/internal/telemetry"
	"go.uber.org/zap"
)

// Agent wires configuration, logging, the per-host collectors, the optional
// NATS publisher, and the collection scheduler together.
type Agent struct {
	config    *config.Config
	logger    *zap.Logger
	targets   []scheduler.Target
	publisher *natspub.Client
	scheduler *scheduler.Scheduler
	version   string
	ctx       context.Context
	cancel    context.CancelFunc
	stopOnce  sync.Once
}

// New creates an agent from the config file at configPath.
func New(configPath string, version string) (*Agent, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Starting hostprobe",
		zap.String("version", version),
		zap.String("probe_id", cfg.ProbeID),
		zap.Int("hosts", len(cfg.Hosts)))

	ctx, cancel := context.WithCancel(context.Background())

	targets, err := buildTargets(cfg, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	var publisher *natspub.Client
	if cfg.NATS.Enabled {
		logger.Info("Connecting to NATS...")
		publisher, err = natspub.NewClient(&cfg.NATS, cfg.ProbeID, logger)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
	}

	var pub scheduler.Publisher
	if publisher != nil {
		pub = publisher
	}
	sched, err := scheduler.New(logger, cfg, targets, pub, version, ctx)
	if err != nil {
		cancel()
		if publisher != nil {
			publisher.Close()
		}
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Agent{
		config:    cfg,
		logger:    logger,
		targets:   targets,
		publisher: publisher,
		scheduler: sched,
		version:   version,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// buildTargets creates one collector per configured host. SSH hosts get a
// fresh executor client; exporter hosts share one HTTP client.
func buildTargets(cfg *config.Config, logger *zap.Logger) ([]scheduler.Target, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	var targets []scheduler.Target
	for _, h := range cfg.Hosts {
		hostLogger := logger.With(zap.String("host", h.Name))

		var runner telemetry.Runner
		if h.Source == "" || h.Source == "ssh" {
			client, err := sshexec.NewClient(sshexec.HostDescriptor{
				Address:      h.Address,
				Port:         h.Port,
				User:         h.User,
				Password:     h.ResolvePassword(),
				IdentityFile: h.IdentityFile,
			}, cfg.SSH.ConnectTimeout, hostLogger)
			if err != nil {
				return nil, fmt.Errorf("host %s: %w", h.Name, err)
			}
			runner = client
		}

		collector, err := telemetry.NewCollector(
			h.Source, runner, telemetry.Platform(h.Platform), h.ExporterURL, hostLogger, httpClient)
		if err != nil {
			return nil, fmt.Errorf("host %s: %w", h.Name, err)
		}

		targets = append(targets, scheduler.Target{Name: h.Name, Collector: collector})
	}

	return targets, nil
}

// Run starts the scheduler and blocks until SIGINT or SIGTERM.
func (a *Agent) Run() error {
	a.scheduler.Start()

	a.logger.Info("Agent running",
		zap.Duration("interval", a.config.Collection.Interval),
		zap.Bool("publishing", a.publisher != nil))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("Context cancelled, shutting down")
	}

	return a.Shutdown()
}

// RunOnce collects every configured host a single time, prints the snapshots
// as JSON to stdout, and publishes them when NATS is enabled. hostFilter
// restricts the run to one named host; empty means all.
func (a *Agent) RunOnce(hostFilter string) error {
	results := make(map[string]*telemetry.HostSnapshot)

	matched := false
	for _, t := range a.targets {
		if hostFilter != "" && t.Name != hostFilter {
			continue
		}
		matched = true

		ctx, cancel := context.WithTimeout(a.ctx, 4*a.config.SSH.CommandTimeout)
		snapshot, err := t.Collector.Collect(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("host %s: %w", t.Name, err)
		}

		results[t.Name] = snapshot
		if a.publisher != nil {
			if err := a.publisher.PublishSnapshot(t.Name, snapshot); err != nil {
				a.logger.Error("Failed to publish snapshot",
					zap.String("host", t.Name), zap.Error(err))
			}
		}
	}

	if !matched {
		return fmt.Errorf("no configured host matches %q", hostFilter)
	}

	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshots: %w", err)
	}
	fmt.Println(string(out))

	return nil
}

// Shutdown stops the scheduler, closes the publisher, and flushes logs.
// Safe to call more than once; the service wrapper and the signal path can
// both reach it.
func (a *Agent) Shutdown() error {
	a.stopOnce.Do(func() {
		a.cancel()

		if err := a.scheduler.Stop(); err != nil {
			a.logger.Warn("Scheduler shutdown error", zap.Error(err))
		}

		if a.publisher != nil {
			a.publisher.Close()
		}

		a.logger.Info("Agent stopped")
		_ = a.logger.Sync()
	})
	return nil
}
