package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessSample holds CPU and memory metrics for a single process.
type ProcessSample struct {
	PID        int32
	Name       string
	CPUPercent float64
	MemoryRSS  uint64
	MemoryVMS  uint64
	NumThreads int32
	StartedAt  time.Time
	Uptime     time.Duration
}

var (
	processCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "katsctl",
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage for managed processes.",
		}, []string{"name"},
	)
	processMemoryBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "katsctl",
			Subsystem: "process",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of managed processes.",
		}, []string{"name"},
	)
	processUptime = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "katsctl",
			Subsystem: "process",
			Name:      "uptime_seconds",
			Help:      "Seconds since the managed process started.",
		}, []string{"name"},
	)
)

// SampleProcess reads CPU, memory and uptime for pid. cpuWindow > 0 measures
// CPU over that interval; otherwise the lifetime average is reported.
func SampleProcess(ctx context.Context, name string, pid int32, cpuWindow time.Duration) (*ProcessSample, error) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("failed to create process handle: %w", err)
	}

	var cpuPercent float64
	if cpuWindow > 0 {
		cpuPercent, err = proc.PercentWithContext(ctx, cpuWindow)
	} else {
		cpuPercent, err = proc.CPUPercentWithContext(ctx)
	}
	if err != nil {
		slog.Debug("Failed to get CPU percent", "name", name, "pid", pid, "error", err)
		cpuPercent = 0
	}

	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory info: %w", err)
	}

	numThreads, err := proc.NumThreadsWithContext(ctx)
	if err != nil {
		slog.Debug("Failed to get thread count", "name", name, "pid", pid, "error", err)
		numThreads = 0
	}

	s := &ProcessSample{
		PID:        pid,
		Name:       name,
		CPUPercent: cpuPercent,
		MemoryRSS:  memInfo.RSS,
		MemoryVMS:  memInfo.VMS,
		NumThreads: numThreads,
	}
	if ms, err := proc.CreateTimeWithContext(ctx); err == nil && ms > 0 {
		s.StartedAt = time.UnixMilli(ms)
		s.Uptime = time.Since(s.StartedAt).Truncate(time.Second)
	}
	return s, nil
}

// Publish exports the sample to the process gauges.
func (s *ProcessSample) Publish() {
	if s == nil || !regOK.Load() {
		return
	}
	processCPUPercent.WithLabelValues(s.Name).Set(s.CPUPercent)
	processMemoryBytes.WithLabelValues(s.Name).Set(float64(s.MemoryRSS))
	processUptime.WithLabelValues(s.Name).Set(s.Uptime.Seconds())
}
