package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "katsctl",
			Subsystem: "supervisor",
			Name:      "operations_total",
			Help:      "Supervisor operations by outcome (ok or diagnostic label).",
		}, []string{"op", "outcome"},
	)
	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "katsctl",
			Subsystem: "supervisor",
			Name:      "operation_duration_seconds",
			Help:      "Wall time of supervisor operations.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"op"},
	)
	lastOperation = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "katsctl",
			Subsystem: "supervisor",
			Name:      "last_operation_timestamp_seconds",
			Help:      "Unix time of the last operation per kind.",
		}, []string{"op"},
	)
	processUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "katsctl",
			Subsystem: "process",
			Name:      "up",
			Help:      "1 when the managed process is alive.",
		}, []string{"name"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "katsctl",
			Subsystem: "process",
			Name:      "current_state",
			Help:      "Current state of processes (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
	preflightChecks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "katsctl",
			Subsystem: "preflight",
			Name:      "check_passed",
			Help:      "1 when the preflight check passed on the last run.",
		}, []string{"check"},
	)
	terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "katsctl",
			Subsystem: "process",
			Name:      "terminations_total",
			Help:      "Signals escalations by process and final signal.",
		}, []string{"name", "signal"},
	)
	cacheUsedMemory = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "katsctl",
			Subsystem: "cache",
			Name:      "used_memory_bytes",
			Help:      "used_memory reported by the cache INFO command.",
		},
	)
	cacheKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "katsctl",
			Subsystem: "cache",
			Name:      "keys",
			Help:      "Number of keys in the selected cache database.",
		},
	)
	ticksArchived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "katsctl",
			Subsystem: "cache",
			Name:      "ticks_archived_total",
			Help:      "Ticks moved from the cache into tick_archive.",
		},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		operations, operationDuration, lastOperation, processUp, currentStates,
		preflightChecks, terminations, cacheUsedMemory, cacheKeys, ticksArchived,
		processCPUPercent, processMemoryBytes, processUptime,
	}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// HandlerFor serves metrics from g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// WriteTextfile writes the gathered metrics in the node_exporter textfile
// format. The write is atomic.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, g)
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

// ObserveOperation records one finished operation.
func ObserveOperation(op, outcome string, d time.Duration) {
	if !regOK.Load() {
		return
	}
	operations.WithLabelValues(op, outcome).Inc()
	operationDuration.WithLabelValues(op).Observe(d.Seconds())
	lastOperation.WithLabelValues(op).SetToCurrentTime()
}

func SetProcessUp(name string, up bool) {
	if regOK.Load() {
		processUp.WithLabelValues(name).Set(boolValue(up))
	}
}

// SetCurrentState marks state active for name and clears the others.
func SetCurrentState(name, state string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range all {
		currentStates.WithLabelValues(name, s).Set(boolValue(s == state))
	}
}

func SetPreflightCheck(check string, passed bool) {
	if regOK.Load() {
		preflightChecks.WithLabelValues(check).Set(boolValue(passed))
	}
}

func IncTermination(name, signal string) {
	if regOK.Load() {
		terminations.WithLabelValues(name, signal).Inc()
	}
}

func SetCacheStats(usedMemory uint64, keys int64) {
	if regOK.Load() {
		cacheUsedMemory.Set(float64(usedMemory))
		cacheKeys.Set(float64(keys))
	}
}

func AddTicksArchived(n int) {
	if regOK.Load() {
		ticksArchived.Add(float64(n))
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
