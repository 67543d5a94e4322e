package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stone-age-io/hostprobe/internal/utils"
	"go.uber.org/zap"
)

// node_exporter metric families the collector reads.
const (
	metricCPUSeconds    = "node_cpu_seconds_total"
	metricMemTotal      = "node_memory_MemTotal_bytes"
	metricMemFree       = "node_memory_MemFree_bytes"
	metricFSSize        = "node_filesystem_size_bytes"
	metricFSAvail       = "node_filesystem_avail_bytes"
	metricNetTransmit   = "node_network_transmit_bytes_total"
	metricNetReceive    = "node_network_receive_bytes_total"
	cpuIdleMode         = "idle"
	loopbackDevice      = "lo"
	scrapeBodyLimit     = 10 * 1024 * 1024
	cacheStaleThreshold = 5 * time.Minute
)

// ExporterCollector assembles snapshots by scraping a Prometheus node_exporter
// endpoint instead of running remote commands. CPU usage and network rates are
// counter deltas, so the first scrape only establishes a baseline and reports
// zeros; values appear from the second scrape on.
type ExporterCollector struct {
	exporterURL string
	logger      *zap.Logger
	httpClient  *http.Client

	// Cache for rate calculations
	mu            sync.Mutex
	lastTimestamp time.Time
	lastCPUTotal  float64
	lastCPUIdle   float64
	lastTxBytes   float64
	lastRxBytes   float64
}

// NewExporterCollector creates a collector that scrapes a node_exporter.
func NewExporterCollector(url string, logger *zap.Logger, httpClient *http.Client) *ExporterCollector {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ExporterCollector{
		exporterURL: url,
		logger:      logger,
		httpClient:  httpClient,
	}
}

func (c *ExporterCollector) Name() string {
	return fmt.Sprintf("exporter (%s)", c.exporterURL)
}

// ResetCache clears the rate-calculation baseline.
func (c *ExporterCollector) ResetCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTimestamp = time.Time{}
	c.lastCPUTotal = 0
	c.lastCPUIdle = 0
	c.lastTxBytes = 0
	c.lastRxBytes = 0
}

func (c *ExporterCollector) Collect(ctx context.Context) (*HostSnapshot, error) {
	c.resetCacheIfStale()

	req, err := http.NewRequestWithContext(ctx, "GET", c.exporterURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "hostprobe/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("exporter scrape timeout: %w", err)
		}
		return nil, fmt.Errorf("failed to fetch exporter metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	families, err := parseMetricFamilies(io.LimitReader(resp.Body, scrapeBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to parse exporter metrics: %w", err)
	}

	now := time.Now().UTC()
	snapshot := &HostSnapshot{Timestamp: now}

	snapshot.CPU = c.extractCPU(families)
	snapshot.Memory = extractMemory(families)
	snapshot.Disks = extractDisks(families)
	snapshot.Network = c.extractNetwork(families, now)
	// The exporter has no process table; the field stays an empty list.
	snapshot.TopProcesses = nil

	c.mu.Lock()
	c.lastTimestamp = now
	c.mu.Unlock()

	c.logger.Debug("Exporter scrape completed",
		zap.Float64("cpu_percent", snapshot.CPU.UsagePercent),
		zap.Uint64("memory_total_mb", snapshot.Memory.TotalMB),
		zap.Int("disk_count", len(snapshot.Disks)))

	return snapshot, nil
}

// resetCacheIfStale drops the baseline when the previous scrape is too old
// for a meaningful rate.
func (c *ExporterCollector) resetCacheIfStale() {
	c.mu.Lock()
	stale := !c.lastTimestamp.IsZero() && time.Since(c.lastTimestamp) > cacheStaleThreshold
	c.mu.Unlock()

	if stale {
		c.logger.Debug("Rate baseline stale, resetting")
		c.ResetCache()
	}
}

// parseMetricFamilies decodes a Prometheus text exposition into a name-keyed map.
func parseMetricFamilies(reader io.Reader) (map[string]*dto.MetricFamily, error) {
	decoder := expfmt.NewDecoder(reader, expfmt.NewFormat(expfmt.TypeTextPlain))

	families := make(map[string]*dto.MetricFamily)
	for {
		mf := &dto.MetricFamily{}
		err := decoder.Decode(mf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode metric family: %w", err)
		}
		families[mf.GetName()] = mf
	}
	return families, nil
}

func (c *ExporterCollector) extractCPU(families map[string]*dto.MetricFamily) CPUStat {
	family, ok := families[metricCPUSeconds]
	if !ok {
		return CPUStat{}
	}

	var total, idle float64
	for _, m := range family.GetMetric() {
		value := m.GetCounter().GetValue()
		total += value
		if labelValue(m, "mode") == cpuIdleMode {
			idle += value
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastCPUTotal == 0 {
		c.lastCPUTotal = total
		c.lastCPUIdle = idle
		return CPUStat{} // baseline only
	}

	totalDelta := total - c.lastCPUTotal
	idleDelta := idle - c.lastCPUIdle
	c.lastCPUTotal = total
	c.lastCPUIdle = idle

	if totalDelta <= 0 {
		return CPUStat{}
	}

	usage := (totalDelta - idleDelta) / totalDelta * 100
	return CPUStat{UsagePercent: clampPercent(utils.Round(usage))}
}

func extractMemory(families map[string]*dto.MetricFamily) MemoryStat {
	totalBytes := gaugeValue(families, metricMemTotal)
	freeBytes := gaugeValue(families, metricMemFree)
	if totalBytes <= 0 {
		return MemoryStat{}
	}

	totalMB := uint64(totalBytes) / 1024 / 1024
	freeMB := uint64(freeBytes) / 1024 / 1024
	usedMB := uint64(0)
	if totalMB > freeMB {
		usedMB = totalMB - freeMB
	}
	return MemoryStat{TotalMB: totalMB, UsedMB: usedMB, FreeMB: freeMB}
}

func extractDisks(families map[string]*dto.MetricFamily) []DiskStat {
	sizeFamily, ok := families[metricFSSize]
	if !ok {
		return nil
	}

	availByMount := make(map[string]float64)
	if availFamily, ok := families[metricFSAvail]; ok {
		for _, m := range availFamily.GetMetric() {
			availByMount[labelValue(m, "mountpoint")] = m.GetGauge().GetValue()
		}
	}

	var disks []DiskStat
	for _, m := range sizeFamily.GetMetric() {
		device := labelValue(m, "device")
		mount := labelValue(m, "mountpoint")
		size := m.GetGauge().GetValue()
		if size <= 0 || isPseudoFilesystem(device) {
			continue
		}

		avail := availByMount[mount]
		used := size - avail
		if used < 0 {
			used = 0
		}

		disks = append(disks, DiskStat{
			Filesystem:   device,
			UsagePercent: clampPercent(utils.Round(used / size * 100)),
			Size:         humanBytes(size),
			Used:         humanBytes(used),
			Available:    humanBytes(avail),
			MountPoint:   mount,
		})
	}

	// Family map iteration order is random; keep output stable for consumers.
	sort.Slice(disks, func(i, j int) bool { return disks[i].MountPoint < disks[j].MountPoint })
	return disks
}

func (c *ExporterCollector) extractNetwork(families map[string]*dto.MetricFamily, now time.Time) NetworkStat {
	var tx, rx float64
	if family, ok := families[metricNetTransmit]; ok {
		for _, m := range family.GetMetric() {
			if labelValue(m, "device") == loopbackDevice {
				continue
			}
			tx += m.GetCounter().GetValue()
		}
	}
	if family, ok := families[metricNetReceive]; ok {
		for _, m := range family.GetMetric() {
			if labelValue(m, "device") == loopbackDevice {
				continue
			}
			rx += m.GetCounter().GetValue()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastTimestamp.IsZero() {
		c.lastTxBytes = tx
		c.lastRxBytes = rx
		return BuildNetworkStat(0, 0)
	}

	elapsed := now.Sub(c.lastTimestamp).Seconds()
	txDelta := tx - c.lastTxBytes
	rxDelta := rx - c.lastRxBytes
	c.lastTxBytes = tx
	c.lastRxBytes = rx

	if elapsed <= 0 {
		return BuildNetworkStat(0, 0)
	}

	const mb = 1024 * 1024
	return BuildNetworkStat(
		utils.Round(txDelta/elapsed/mb),
		utils.Round(rxDelta/elapsed/mb),
	)
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func gaugeValue(families map[string]*dto.MetricFamily, name string) float64 {
	family, ok := families[name]
	if !ok || len(family.GetMetric()) == 0 {
		return 0
	}
	return family.GetMetric()[0].GetGauge().GetValue()
}

// humanBytes renders a byte count the way df -h does ("40G", "512M").
func humanBytes(v float64) string {
	units := []struct {
		limit  float64
		suffix string
	}{
		{1 << 40, "T"},
		{1 << 30, "G"},
		{1 << 20, "M"},
		{1 << 10, "K"},
	}
	for _, u := range units {
		if v >= u.limit {
			scaled := v / u.limit
			if scaled >= 10 {
				return fmt.Sprintf("%.0f%s", scaled, u.suffix)
			}
			return fmt.Sprintf("%.1f%s", scaled, u.suffix)
		}
	}
	return fmt.Sprintf("%.0fB", v)
}
