package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request-level metrics
var (
	// RequestsTotal counts dispatched requests by outcome kind
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenbench_requests_total",
			Help: "Total benchmark requests by outcome (success, transport_failure, schema_failure)",
		},
		[]string{"outcome"},
	)

	// TokensTotal counts tokens reported by the service
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenbench_tokens_total",
			Help: "Total tokens counted by kind (prompt, completion)",
		},
		[]string{"kind"},
	)

	// RequestDuration tracks per-request wall time
	RequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tokenbench_request_duration_seconds",
			Help:    "Duration of individual completion requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.5min
		},
	)
)

// Attempt and service lifecycle metrics
var (
	// AttemptsTotal counts dataset attempts by terminal state
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenbench_attempts_total",
			Help: "Total dataset attempts by result (succeeded, aborted)",
		},
		[]string{"result"},
	)

	// ServiceRestarts counts service restarts triggered by the retry path
	ServiceRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokenbench_service_restarts_total",
			Help: "Total service restarts performed by the retry controller",
		},
	)

	// StartupDuration tracks how long the service takes to become ready
	StartupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tokenbench_service_startup_seconds",
			Help:    "Time from launch to readiness including the settle delay",
			Buckets: prometheus.LinearBuckets(5, 10, 12), // 5s to ~2min
		},
	)

	// DatasetsSkipped counts datasets skipped due to load errors
	DatasetsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokenbench_datasets_skipped_total",
			Help: "Total datasets skipped because they were missing, empty or unreadable",
		},
	)

	// Throughput records the most recent throughput per namespace
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tokenbench_throughput_tokens_per_second",
			Help: "Aggregate throughput of the last completed attempt per namespace",
		},
		[]string{"namespace"},
	)
)
