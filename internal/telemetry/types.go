package telemetry

import "time"

// HostSnapshot is the fully-assembled result of one collection cycle.
// Every field is always populated; metrics that could not be collected or
// parsed degrade to their zero value so consumers never need to null-check.
type HostSnapshot struct {
	Timestamp    time.Time   `json:"timestamp"`
	CPU          CPUStat     `json:"cpu"`
	Memory       MemoryStat  `json:"memory"`
	Disks        []DiskStat  `json:"disks"`
	Network      NetworkStat `json:"network"`
	TopProcesses []string    `json:"top_processes"`
}

// CPUStat holds aggregate CPU utilization.
type CPUStat struct {
	// UsagePercent is always clamped to [0, 100], even when the source
	// tool's rounding would put it slightly outside.
	UsagePercent float64 `json:"usage_percent"`
}

// MemoryStat holds memory totals in megabytes.
// When derived from page counts, UsedMB = TotalMB - FreeMB by construction.
// When taken from direct tool output, UsedMB is as reported and the identity
// is not enforced (some tools account buffers separately).
type MemoryStat struct {
	TotalMB uint64 `json:"total_mb"`
	UsedMB  uint64 `json:"used_mb"`
	FreeMB  uint64 `json:"free_mb"`
}

// DiskStat describes one mounted filesystem as reported by df.
// Size/Used/Available keep the tool's own human-readable strings ("120G");
// the source tools use inconsistent unit suffixes, so re-parsing them to
// bytes is deliberately not attempted here.
type DiskStat struct {
	Filesystem   string  `json:"filesystem"`
	UsagePercent float64 `json:"usage_percent"`
	Size         string  `json:"size"`
	Used         string  `json:"used"`
	Available    string  `json:"available"`
	MountPoint   string  `json:"mount_point"`
}

// NetworkStat holds throughput rates in megabytes per second.
type NetworkStat struct {
	TransmitMBps float64 `json:"transmit_mbps"`
	ReceiveMBps  float64 `json:"receive_mbps"`
}
