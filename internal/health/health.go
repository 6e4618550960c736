// Package health probes the orchestrator's own runtime: system resources,
// the code host, and the external binaries every cycle depends on.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/antigravity-dev/reflex/internal/host"
	"github.com/antigravity-dev/reflex/internal/store"
)

// Status is the severity of one check. Unknown sits between Healthy and
// Degraded so an unreadable probe never masks a genuinely unhealthy one.
type Status int

const (
	Healthy Status = iota
	Unknown
	Degraded
	Unhealthy
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "HEALTHY"
	case Degraded:
		return "DEGRADED"
	case Unhealthy:
		return "UNHEALTHY"
	default:
		return "UNKNOWN"
	}
}

// Check is one probe result.
type Check struct {
	Name   string
	Status Status
	Detail string
}

// Report is a full probe pass. Overall is the most severe check status.
type Report struct {
	Overall Status
	Checks  []Check
	At      time.Time
}

const (
	diskDegradedPct    = 80.0
	diskUnhealthyPct   = 95.0
	memoryDegradedPct  = 85.0
	memoryUnhealthyPct = 95.0
	loadDegradedRatio  = 1.5
	loadUnhealthyRatio = 3.0
	hostProbeTimeout   = 10 * time.Second
)

// Monitor runs the probe set, optionally on a ticker.
type Monitor struct {
	store       *store.Store
	host        host.Host
	runnerBin   string
	workspace   string
	diskWarnPct float64
	memWarnPct  float64
	logger      *slog.Logger
	lookPath    func(string) (string, error)
	readFile    func(string) ([]byte, error)
	diskUsage   func(string) (usedPct float64, err error)
	rateLimits  func(ctx context.Context) (*host.RateLimit, error)
}

// NewMonitor wires the probe set. store may be nil for one-shot dashboard
// use; ledger events are then skipped. diskWarnPct and memWarnPct set the
// DEGRADED thresholds; values outside (0,100) fall back to the defaults.
func NewMonitor(s *store.Store, h host.Host, runnerBin, workspace string, diskWarnPct, memWarnPct float64, logger *slog.Logger) *Monitor {
	if diskWarnPct <= 0 || diskWarnPct >= 100 {
		diskWarnPct = diskDegradedPct
	}
	if memWarnPct <= 0 || memWarnPct >= 100 {
		memWarnPct = memoryDegradedPct
	}
	m := &Monitor{
		store:       s,
		host:        h,
		runnerBin:   runnerBin,
		workspace:   workspace,
		diskWarnPct: diskWarnPct,
		memWarnPct:  memWarnPct,
		logger:      logger,
		lookPath:    exec.LookPath,
		readFile:    os.ReadFile,
		diskUsage:   diskUsedPct,
	}
	if h != nil {
		m.rateLimits = h.GetRateLimit
	}
	return m
}

// Start probes on the given interval until the context is cancelled.
// Non-healthy reports are recorded as ledger health events.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := m.Probe(ctx)
			if report.Overall == Healthy {
				continue
			}
			m.logger.Warn("health degraded", "overall", report.Overall.String())
			if m.store != nil {
				if err := m.store.RecordHealthEvent("health_"+strings.ToLower(report.Overall.String()), describeChecks(report)); err != nil {
					m.logger.Warn("health event not recorded", "error", err)
				}
			}
		}
	}
}

// Probe runs every check once.
func (m *Monitor) Probe(ctx context.Context) *Report {
	report := &Report{At: time.Now()}
	report.Checks = []Check{
		m.checkDisk(),
		m.checkMemory(),
		m.checkCPU(),
		m.checkHost(ctx),
		m.checkBinary("runner", m.runnerBin),
		m.checkBinary("git", "git"),
	}
	for _, c := range report.Checks {
		if c.Status > report.Overall {
			report.Overall = c.Status
		}
	}
	return report
}

func (m *Monitor) checkDisk() Check {
	used, err := m.diskUsage(m.workspace)
	if err != nil {
		return Check{Name: "disk", Status: Unknown, Detail: err.Error()}
	}
	return thresholdCheck("disk", used, m.diskWarnPct, diskUnhealthyPct)
}

func (m *Monitor) checkMemory() Check {
	data, err := m.readFile("/proc/meminfo")
	if err != nil {
		return Check{Name: "memory", Status: Unknown, Detail: err.Error()}
	}
	total, available := parseMeminfo(string(data))
	if total == 0 {
		return Check{Name: "memory", Status: Unknown, Detail: "meminfo unparseable"}
	}
	used := 100 * float64(total-available) / float64(total)
	return thresholdCheck("memory", used, m.memWarnPct, memoryUnhealthyPct)
}

// checkCPU compares 1-minute load against core count.
func (m *Monitor) checkCPU() Check {
	data, err := m.readFile("/proc/loadavg")
	if err != nil {
		return Check{Name: "cpu", Status: Unknown, Detail: err.Error()}
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return Check{Name: "cpu", Status: Unknown, Detail: "loadavg unparseable"}
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Check{Name: "cpu", Status: Unknown, Detail: err.Error()}
	}
	ratio := load / float64(runtime.NumCPU())
	detail := fmt.Sprintf("load %.2f over %d cores", load, runtime.NumCPU())
	switch {
	case ratio >= loadUnhealthyRatio:
		return Check{Name: "cpu", Status: Unhealthy, Detail: detail}
	case ratio >= loadDegradedRatio:
		return Check{Name: "cpu", Status: Degraded, Detail: detail}
	default:
		return Check{Name: "cpu", Status: Healthy, Detail: detail}
	}
}

func (m *Monitor) checkHost(ctx context.Context) Check {
	if m.rateLimits == nil {
		return Check{Name: "host", Status: Unknown, Detail: "no host configured"}
	}
	probeCtx, cancel := context.WithTimeout(ctx, hostProbeTimeout)
	defer cancel()

	rl, err := m.rateLimits(probeCtx)
	if err != nil {
		return Check{Name: "host", Status: Unhealthy, Detail: err.Error()}
	}
	detail := fmt.Sprintf("%d/%d requests remaining", rl.Remaining, rl.Limit)
	if rl.Limit > 0 && float64(rl.Remaining)/float64(rl.Limit) < 0.05 {
		return Check{Name: "host", Status: Degraded, Detail: detail}
	}
	return Check{Name: "host", Status: Healthy, Detail: detail}
}

func (m *Monitor) checkBinary(name, bin string) Check {
	if bin == "" {
		return Check{Name: name, Status: Unknown, Detail: "not configured"}
	}
	path, err := m.lookPath(bin)
	if err != nil {
		return Check{Name: name, Status: Unhealthy, Detail: fmt.Sprintf("%s not found in PATH", bin)}
	}
	return Check{Name: name, Status: Healthy, Detail: path}
}

func thresholdCheck(name string, usedPct, degraded, unhealthy float64) Check {
	detail := fmt.Sprintf("%.1f%% used", usedPct)
	switch {
	case usedPct >= unhealthy:
		return Check{Name: name, Status: Unhealthy, Detail: detail}
	case usedPct >= degraded:
		return Check{Name: name, Status: Degraded, Detail: detail}
	default:
		return Check{Name: name, Status: Healthy, Detail: detail}
	}
}

func diskUsedPct(path string) (float64, error) {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		return 0, fmt.Errorf("health: statfs %s: %w", path, err)
	}
	if fs.Blocks == 0 {
		return 0, fmt.Errorf("health: statfs %s: zero blocks", path)
	}
	return 100 * float64(fs.Blocks-fs.Bavail) / float64(fs.Blocks), nil
}

// parseMeminfo returns MemTotal and MemAvailable in kB.
func parseMeminfo(text string) (total, available uint64) {
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, _ = strconv.ParseUint(fields[1], 10, 64)
		case "MemAvailable:":
			available, _ = strconv.ParseUint(fields[1], 10, 64)
		}
	}
	return total, available
}

func describeChecks(r *Report) string {
	var parts []string
	for _, c := range r.Checks {
		if c.Status != Healthy {
			parts = append(parts, fmt.Sprintf("%s=%s (%s)", c.Name, c.Status, c.Detail))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}
