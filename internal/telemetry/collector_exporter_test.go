package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap"
)

const exporterScrape1 = `# TYPE node_cpu_seconds_total counter
node_cpu_seconds_total{cpu="0",mode="idle"} 100
node_cpu_seconds_total{cpu="0",mode="user"} 40
node_cpu_seconds_total{cpu="0",mode="system"} 10
# TYPE node_memory_MemTotal_bytes gauge
node_memory_MemTotal_bytes 8589934592
# TYPE node_memory_MemFree_bytes gauge
node_memory_MemFree_bytes 2147483648
# TYPE node_filesystem_size_bytes gauge
node_filesystem_size_bytes{device="/dev/sda1",fstype="ext4",mountpoint="/"} 107374182400
node_filesystem_size_bytes{device="tmpfs",fstype="tmpfs",mountpoint="/run"} 1073741824
# TYPE node_filesystem_avail_bytes gauge
node_filesystem_avail_bytes{device="/dev/sda1",fstype="ext4",mountpoint="/"} 64424509440
# TYPE node_network_transmit_bytes_total counter
node_network_transmit_bytes_total{device="eth0"} 1000000
node_network_transmit_bytes_total{device="lo"} 999999999
# TYPE node_network_receive_bytes_total counter
node_network_receive_bytes_total{device="eth0"} 2000000
`

const exporterScrape2 = `# TYPE node_cpu_seconds_total counter
node_cpu_seconds_total{cpu="0",mode="idle"} 110
node_cpu_seconds_total{cpu="0",mode="user"} 70
node_cpu_seconds_total{cpu="0",mode="system"} 10
# TYPE node_memory_MemTotal_bytes gauge
node_memory_MemTotal_bytes 8589934592
# TYPE node_memory_MemFree_bytes gauge
node_memory_MemFree_bytes 2147483648
# TYPE node_network_transmit_bytes_total counter
node_network_transmit_bytes_total{device="eth0"} 5000000
# TYPE node_network_receive_bytes_total counter
node_network_receive_bytes_total{device="eth0"} 9000000
`

// scrapeServer serves a sequence of exposition bodies, one per request.
func scrapeServer(bodies ...string) *httptest.Server {
	var mu sync.Mutex
	i := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		body := bodies[len(bodies)-1]
		if i < len(bodies) {
			body = bodies[i]
			i++
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(body))
	}))
}

// TestExporterCollector_Collect tests baseline establishment and rate math
func TestExporterCollector_Collect(t *testing.T) {
	server := scrapeServer(exporterScrape1, exporterScrape2)
	defer server.Close()

	collector := NewExporterCollector(server.URL, zap.NewNop(), server.Client())
	ctx := context.Background()

	// First scrape: gauges are live, counter rates are baseline-only.
	s1, err := collector.Collect(ctx)
	if err != nil {
		t.Fatalf("first collect failed: %v", err)
	}
	if s1.CPU.UsagePercent != 0 {
		t.Errorf("first scrape CPU = %v, want 0 (baseline)", s1.CPU.UsagePercent)
	}
	if s1.Memory.TotalMB != 8192 || s1.Memory.FreeMB != 2048 || s1.Memory.UsedMB != 6144 {
		t.Errorf("Memory = %+v", s1.Memory)
	}
	if len(s1.Disks) != 1 {
		t.Fatalf("len(Disks) = %d, want 1 (tmpfs skipped)", len(s1.Disks))
	}
	disk := s1.Disks[0]
	if disk.Filesystem != "/dev/sda1" || disk.MountPoint != "/" {
		t.Errorf("disk = %+v", disk)
	}
	if disk.UsagePercent != 40.0 {
		t.Errorf("disk.UsagePercent = %v, want 40", disk.UsagePercent)
	}
	if disk.Size != "100G" || disk.Used != "40G" || disk.Available != "60G" {
		t.Errorf("disk sizes = %q/%q/%q", disk.Size, disk.Used, disk.Available)
	}
	if s1.Network != (NetworkStat{}) {
		t.Errorf("first scrape Network = %+v, want zeros", s1.Network)
	}

	// Second scrape: idle delta 10 of total delta 40 means 75% usage.
	s2, err := collector.Collect(ctx)
	if err != nil {
		t.Fatalf("second collect failed: %v", err)
	}
	if s2.CPU.UsagePercent != 75.0 {
		t.Errorf("second scrape CPU = %v, want 75", s2.CPU.UsagePercent)
	}
	if s2.Network.TransmitMBps < 0 || s2.Network.ReceiveMBps < 0 {
		t.Errorf("Network rates negative: %+v", s2.Network)
	}
}

// TestExporterCollector_ResetCache clears the rate baseline
func TestExporterCollector_ResetCache(t *testing.T) {
	server := scrapeServer(exporterScrape1)
	defer server.Close()

	collector := NewExporterCollector(server.URL, zap.NewNop(), server.Client())
	ctx := context.Background()

	if _, err := collector.Collect(ctx); err != nil {
		t.Fatalf("collect failed: %v", err)
	}

	collector.ResetCache()

	s, err := collector.Collect(ctx)
	if err != nil {
		t.Fatalf("collect after reset failed: %v", err)
	}
	if s.CPU.UsagePercent != 0 {
		t.Errorf("CPU after reset = %v, want 0 (new baseline)", s.CPU.UsagePercent)
	}
}

// TestExporterCollector_HTTPError surfaces scrape failures as errors
func TestExporterCollector_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	collector := NewExporterCollector(server.URL, zap.NewNop(), server.Client())
	if _, err := collector.Collect(context.Background()); err == nil {
		t.Error("expected error for 500 response")
	}
}

// TestHumanBytes renders df-style size strings
func TestHumanBytes(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{2048, "2.0K"},
		{1073741824, "1.0G"},
		{107374182400, "100G"},
		{64424509440, "60G"},
	}
	for _, tt := range tests {
		if got := humanBytes(tt.in); got != tt.want {
			t.Errorf("humanBytes(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
