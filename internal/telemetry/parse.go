package telemetry

import (
	"strconv"
	"strings"
)

// pageSize is the fixed page size used by the Darwin vm_stat report.
const pageSize = 4096

// pseudoFilesystems are first-column prefixes for virtual or helper mounts
// that df reports but that are not real storage.
var pseudoFilesystems = []string{
	"tmpfs",
	"devtmpfs",
	"devfs",
	"map",
	"overlay",
	"udev",
	"shm",
	"none",
}

// ParseCPU extracts aggregate CPU usage from mpstat or top output.
//
// Two dialects are recognized: the mpstat aggregate row (a line with an "all"
// field whose last decimal token is the idle percentage) and the top summary
// row (a token carrying the idle suffix, "94.0 id," on Linux or "80.39% idle"
// on Darwin). Usage is derived as 100 minus idle, clamped to [0, 100].
// Text matching neither dialect yields the zero value, never an error.
func ParseCPU(text string) CPUStat {
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		// mpstat aggregate row: "... all 2.00 0.00 ... 94.00"
		if hasField(fields, "all") {
			if idle, ok := lastDecimal(fields); ok && idle >= 0 && idle <= 100 {
				return CPUStat{UsagePercent: clampPercent(100 - idle)}
			}
			continue
		}

		// top summary row: "%Cpu(s): ... 94.0 id," / "CPU usage: ... 80.39% idle"
		if strings.Contains(line, "Cpu(s)") || strings.Contains(line, "CPU usage") {
			if idle, ok := idleFromTopLine(fields); ok && idle >= 0 && idle <= 100 {
				return CPUStat{UsagePercent: clampPercent(100 - idle)}
			}
		}
	}

	return CPUStat{}
}

// idleFromTopLine locates the token carrying the idle-percent suffix and
// strips everything non-numeric from it. Some top variants emit the value and
// the "id"/"idle" label as separate tokens, so the preceding field is used
// when the labelled token itself holds no digits.
func idleFromTopLine(fields []string) (float64, bool) {
	for i, f := range fields {
		trimmed := strings.Trim(f, ",;:")
		if !strings.HasSuffix(trimmed, "id") && !strings.HasSuffix(trimmed, "idle") {
			continue
		}

		candidate := stripNonNumeric(f)
		if candidate == "" && i > 0 {
			candidate = stripNonNumeric(fields[i-1])
		}

		idle, err := strconv.ParseFloat(candidate, 64)
		if err != nil {
			return 0, false
		}
		return idle, true
	}
	return 0, false
}

// ParseMemory extracts memory totals from whichever platform report is
// supplied. linuxText is the output of "free -m"; darwinText is the output
// of "vm_stat". With neither input the zero value is returned.
func ParseMemory(linuxText, darwinText string) MemoryStat {
	if strings.TrimSpace(linuxText) != "" {
		return parseFreeOutput(linuxText)
	}
	if strings.TrimSpace(darwinText) != "" {
		return parseVMStatOutput(darwinText)
	}
	return MemoryStat{}
}

// parseFreeOutput reads the "Mem:" row of free -m. The first three integer
// tokens on that row are total, used and free megabytes, in that order.
func parseFreeOutput(text string) MemoryStat {
	for _, line := range strings.Split(text, "\n") {
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "mem") {
			continue
		}

		var values []uint64
		for _, f := range strings.Fields(line) {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				continue
			}
			values = append(values, v)
		}

		if len(values) < 3 {
			return MemoryStat{}
		}
		return MemoryStat{TotalMB: values[0], UsedMB: values[1], FreeMB: values[2]}
	}

	return MemoryStat{}
}

// parseVMStatOutput accumulates the free/active/inactive/wired page counters
// of a vm_stat report. Matching is label-driven because line order is not
// guaranteed across macOS versions; "inactive" is tested before "active"
// since the latter is a substring of the former.
func parseVMStatOutput(text string) MemoryStat {
	var free, active, inactive, wired uint64

	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		value, err := strconv.ParseUint(strings.TrimSuffix(fields[len(fields)-1], "."), 10, 64)
		if err != nil {
			continue
		}

		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "inactive"):
			inactive = value
		case strings.Contains(lower, "wired"):
			wired = value
		case strings.Contains(lower, "active"):
			active = value
		case strings.Contains(lower, "free"):
			free = value
		}
	}

	totalPages := free + active + inactive + wired
	totalMB := totalPages * pageSize / 1024 / 1024
	freeMB := free * pageSize / 1024 / 1024

	usedMB := uint64(0)
	if totalMB > freeMB {
		usedMB = totalMB - freeMB
	}

	return MemoryStat{TotalMB: totalMB, UsedMB: usedMB, FreeMB: freeMB}
}

// ParseDisks reads a df table: one header line followed by one row per
// filesystem. Pseudo-filesystem rows and rows with fewer than six columns
// are skipped entirely. The mount point is taken from the last column; mount
// paths with embedded spaces are a known limitation of whitespace splitting.
// Empty or header-only input yields an empty result, never an error.
func ParseDisks(text string) []DiskStat {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return nil
	}

	var disks []DiskStat
	for _, line := range lines[1:] {
		cols := strings.Fields(line)
		if len(cols) < 6 {
			continue
		}
		if isPseudoFilesystem(cols[0]) {
			continue
		}

		usage, err := strconv.ParseFloat(strings.TrimSuffix(cols[5], "%"), 64)
		if err != nil {
			usage = 0
		}

		disks = append(disks, DiskStat{
			Filesystem:   cols[0],
			UsagePercent: clampPercent(usage),
			Size:         cols[2],
			Used:         cols[3],
			Available:    cols[4],
			MountPoint:   cols[len(cols)-1],
		})
	}

	return disks
}

// BuildNetworkStat constructs a NetworkStat from already-measured rates.
// Live measurement over the remote shell is not implemented; callers pass
// zeros until a real source is wired in. Negative rates are clamped to zero.
func BuildNetworkStat(transmitMBps, receiveMBps float64) NetworkStat {
	if transmitMBps < 0 {
		transmitMBps = 0
	}
	if receiveMBps < 0 {
		receiveMBps = 0
	}
	return NetworkStat{TransmitMBps: transmitMBps, ReceiveMBps: receiveMBps}
}

func hasField(fields []string, want string) bool {
	for _, f := range fields {
		if f == want {
			return true
		}
	}
	return false
}

// lastDecimal returns the last field parseable as a decimal number.
// Tokens without a decimal point are ignored so column labels and plain
// counters on the same line do not shadow the idle percentage.
func lastDecimal(fields []string) (float64, bool) {
	for i := len(fields) - 1; i >= 0; i-- {
		if !strings.Contains(fields[i], ".") {
			continue
		}
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			continue
		}
		return v, true
	}
	return 0, false
}

// stripNonNumeric drops every character that is not a digit or a decimal
// point, e.g. "80.39%" -> "80.39".
func stripNonNumeric(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isPseudoFilesystem(name string) bool {
	for _, prefix := range pseudoFilesystems {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
