// Package metrics exposes Prometheus collectors for the archiving worker.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	commandExecutionsTotal  *prometheus.CounterVec
	commandDurationSeconds  *prometheus.HistogramVec
	artifactsFinalizedTotal *prometheus.CounterVec
	replicaWritesTotal      *prometheus.CounterVec
	jobsTotal               *prometheus.CounterVec
	activeExecutions        prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		commandExecutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "htbase_command_executions_total",
				Help: "Total capture commands executed, labeled by tool and outcome.",
			},
			[]string{"tool", "outcome"},
		)

		commandDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "htbase_command_duration_seconds",
				Help:    "Histogram of capture command durations, labeled by tool.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"tool"},
		)

		artifactsFinalizedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "htbase_artifacts_finalized_total",
				Help: "Total artifacts finalized, labeled by tool and status.",
			},
			[]string{"tool", "status"},
		)

		replicaWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "htbase_replica_writes_total",
				Help: "Total secondary-store writes, labeled by operation and outcome.",
			},
			[]string{"op", "outcome"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "htbase_jobs_total",
				Help: "Total capture jobs processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		activeExecutions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "htbase_active_executions",
				Help: "Number of capture commands currently running.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveExecution records one finished capture command.
func ObserveExecution(tool, outcome string, duration time.Duration) {
	Init()
	commandExecutionsTotal.WithLabelValues(tool, outcome).Inc()
	commandDurationSeconds.WithLabelValues(tool).Observe(duration.Seconds())
}

// ObserveFinalize increments the finalized-artifact counter.
func ObserveFinalize(tool, status string) {
	Init()
	artifactsFinalizedTotal.WithLabelValues(tool, status).Inc()
}

// ObserveReplicaWrite records a secondary-store write attempt.
func ObserveReplicaWrite(op, outcome string) {
	Init()
	replicaWritesTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveJob increments the job counter for the given outcome.
func ObserveJob(outcome string) {
	Init()
	jobsTotal.WithLabelValues(outcome).Inc()
}

// IncActiveExecutions increments the running-command gauge.
func IncActiveExecutions() {
	Init()
	activeExecutions.Inc()
}

// DecActiveExecutions decrements the running-command gauge.
func DecActiveExecutions() {
	Init()
	activeExecutions.Dec()
}
