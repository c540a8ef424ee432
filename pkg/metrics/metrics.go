// Package metrics exposes the Prometheus collectors for the drop-graph
// runtime: drop lifecycle transitions, app executions, DLM sweeps, and
// composite fan-out latency, registered against a dedicated registry the
// way the teacher keeps its own Registry separate from the default one.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	dropsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dfms",
			Subsystem: "drop",
			Name:      "created_total",
			Help:      "Total number of drops created, grouped by drop type.",
		},
		[]string{"type"},
	)

	dropStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dfms",
			Subsystem: "drop",
			Name:      "status_transitions_total",
			Help:      "Total number of drop status transitions, grouped by drop type and resulting status.",
		},
		[]string{"type", "status"},
	)

	dropWriteBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dfms",
			Subsystem: "drop",
			Name:      "write_bytes_total",
			Help:      "Total bytes written to data drops, grouped by drop type.",
		},
		[]string{"type"},
	)

	appExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dfms",
			Subsystem: "app",
			Name:      "executions_total",
			Help:      "Total number of app drop executions, grouped by app kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	appDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dfms",
			Subsystem: "app",
			Name:      "execution_duration_seconds",
			Help:      "Duration of app drop executions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~32s
		},
		[]string{"kind"},
	)

	sessionStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "dfms",
			Subsystem: "session",
			Name:      "status",
			Help:      "Current number of sessions in each lifecycle status.",
		},
		[]string{"status"},
	)

	dlmSweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dfms",
			Subsystem: "dlm",
			Name:      "sweeps_total",
			Help:      "Total number of DLM background sweeper passes.",
		},
		[]string{"outcome"},
	)

	dlmSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dfms",
			Subsystem: "dlm",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of DLM sweeper passes.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	dlmExpirations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dfms",
			Subsystem: "dlm",
			Name:      "expirations_total",
			Help:      "Total number of drops expired by the DLM, grouped by reason.",
		},
		[]string{"reason"},
	)

	dlmEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dfms",
			Subsystem: "dlm",
			Name:      "evictions_total",
			Help:      "Total number of drops evicted by the DLM after expiry.",
		},
	)

	fanoutDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dfms",
			Subsystem: "composite",
			Name:      "fanout_duration_seconds",
			Help:      "Duration of a Data Island/Master Manager fan-out call across its children.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"operation"},
	)

	fanoutCounts   = map[string]int{}
	fanoutCountsMu sync.Mutex
)

func init() {
	Registry.MustRegister(
		dropsCreated,
		dropStatus,
		dropWriteBytes,
		appExecutions,
		appDuration,
		sessionStatus,
		dlmSweeps,
		dlmSweepDuration,
		dlmExpirations,
		dlmEvictions,
		fanoutDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordDropCreated records the creation of a drop of the given type, e.g.
// "file", "memory", "directorycontainer", "container", "barrier",
// "streaming", "nativelib".
func RecordDropCreated(dropType string) {
	dropsCreated.WithLabelValues(dropType).Inc()
}

// RecordDropStatus records a drop status transition.
func RecordDropStatus(dropType, status string) {
	dropStatus.WithLabelValues(dropType, status).Inc()
}

// RecordDropWrite records bytes written to a data drop.
func RecordDropWrite(dropType string, n int) {
	if n <= 0 {
		return
	}
	dropWriteBytes.WithLabelValues(dropType).Add(float64(n))
}

// RecordAppExecution records the outcome and duration of an app drop run.
func RecordAppExecution(kind, outcome string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	appExecutions.WithLabelValues(kind, outcome).Inc()
	appDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetSessionStatusCount sets the current gauge value for sessions in status.
func SetSessionStatusCount(status string, count int) {
	sessionStatus.WithLabelValues(status).Set(float64(count))
}

// RecordDLMSweep records one sweeper pass, its outcome ("ok" or "error") and
// duration.
func RecordDLMSweep(outcome string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	dlmSweeps.WithLabelValues(outcome).Inc()
	dlmSweepDuration.Observe(duration.Seconds())
}

// RecordDLMExpiration records a drop expiring for the given reason; the DLM
// records "lifespan".
func RecordDLMExpiration(reason string) {
	dlmExpirations.WithLabelValues(reason).Inc()
}

// RecordDLMEviction records a drop being evicted after expiry.
func RecordDLMEviction() {
	dlmEvictions.Inc()
}

// RecordFanout records the duration of a composite manager fan-out call,
// e.g. "deploy", "cancel", "get_status".
func RecordFanout(operation string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	fanoutDuration.WithLabelValues(operation).Observe(duration.Seconds())

	fanoutCountsMu.Lock()
	fanoutCounts[operation]++
	fanoutCountsMu.Unlock()
}

// FanoutCount returns the number of recorded fan-out calls for operation,
// mainly useful from tests.
func FanoutCount(operation string) int {
	fanoutCountsMu.Lock()
	defer fanoutCountsMu.Unlock()
	return fanoutCounts[operation]
}
