package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Platform selects which command recipe a collector uses for a host.
// Detection is the caller's responsibility; the collector never probes.
type Platform string

const (
	PlatformLinux  Platform = "linux"
	PlatformDarwin Platform = "darwin"
)

// Runner is the execution boundary between the snapshot service and the
// remote transport: run one fully-formed shell command, get back the exit
// status and the combined stdout/stderr text. A returned error means the
// command could not run at all (connection, auth, timeout); a non-zero exit
// is a result, not an error.
type Runner interface {
	Run(ctx context.Context, command string) (exitCode int, combinedOutput string, err error)
}

// Collector produces host snapshots from some metrics source.
type Collector interface {
	// Collect gathers one snapshot. A transport-level failure aborts the
	// cycle; unparsable command output degrades to zero-valued metrics.
	Collect(ctx context.Context) (*HostSnapshot, error)

	// Name returns the collector name for logging
	Name() string
}

// NewCollector creates the appropriate collector based on configuration.
// source: "ssh" (default) or "exporter".
func NewCollector(source string, runner Runner, platform Platform, exporterURL string, logger *zap.Logger, httpClient *http.Client) (Collector, error) {
	source = strings.ToLower(source)
	if source == "" {
		source = "ssh"
	}

	switch source {
	case "ssh":
		logger.Info("Using ssh snapshot collector", zap.String("platform", string(platform)))
		return NewSSHCollector(runner, platform, logger), nil
	case "exporter":
		if exporterURL == "" {
			return nil, fmt.Errorf("exporter_url required for exporter source")
		}
		logger.Info("Using exporter snapshot collector", zap.String("url", exporterURL))
		return NewExporterCollector(exporterURL, logger, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown snapshot source: %s", source)
	}
}
