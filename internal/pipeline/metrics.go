package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the pipeline, prefixed "briefd_". Registered
// once at package init on the default registry; promhttp serves them.
var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "briefd_runs_total",
			Help: "Total pipeline runs by terminal status",
		},
		[]string{"status"},
	)

	passAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "briefd_pass_attempts_total",
			Help: "Total pass body executions, including gate retries",
		},
		[]string{"pass"},
	)

	gateScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "briefd_gate_score",
			Help:    "Quality gate aggregate scores per pass",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"pass"},
	)

	debatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "briefd_debates_total",
			Help: "Total debates by termination reason",
		},
		[]string{"termination"},
	)

	escalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "briefd_escalations_total",
			Help: "Total escalation packages by priority",
		},
		[]string{"priority"},
	)

	runCostUSD = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "briefd_run_cost_usd",
			Help:    "Cumulative cost per run in USD",
			Buckets: prometheus.ExponentialBuckets(0.01, 2.5, 12),
		},
	)
)
