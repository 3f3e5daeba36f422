// Package metrics provides Prometheus metrics for simulation runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sparring"

var (
	// runsTotal counts finished simulation runs by outcome.
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of finished simulation runs",
		},
		[]string{"status"}, // status: success, error
	)

	// runDuration is a histogram of total run duration in seconds.
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Histogram of total simulation run duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	// turnsTotal counts appended conversation turns by role.
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of conversation turns appended",
		},
		[]string{"role"},
	)

	// verdictsTotal counts judge verdicts by outcome.
	verdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Total number of judge verdicts",
		},
		[]string{"outcome"}, // outcome: pass, fail
	)
)

// allMetrics lists every collector this package registers.
var allMetrics = []prometheus.Collector{
	runsTotal,
	runDuration,
	turnsTotal,
	verdictsTotal,
}

// RecordRun records one finished run with its outcome and duration.
func RecordRun(status string, duration time.Duration) {
	runsTotal.WithLabelValues(status).Inc()
	runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordTurn records one appended conversation turn.
func RecordTurn(role string) {
	turnsTotal.WithLabelValues(role).Inc()
}

// RecordVerdict records one judge verdict.
func RecordVerdict(pass bool) {
	outcome := "fail"
	if pass {
		outcome = "pass"
	}
	verdictsTotal.WithLabelValues(outcome).Inc()
}
