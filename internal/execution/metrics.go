package execution

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for execution outcome.
const (
	outcomeExited      = "exited"
	outcomeSignaled    = "signaled"
	outcomeSpawnFailed = "spawn_failed"
	outcomeIOFailure   = "io_failure"
	outcomeInvalid     = "invalid"
)

var (
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fcagent_executions_total",
			Help: "Total number of execution requests by outcome.",
		},
		[]string{"outcome"},
	)

	executionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fcagent_execution_duration_seconds",
			Help:    "Wall time from spawn to reaped child, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	executionsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fcagent_executions_inflight",
			Help: "Number of executions currently running.",
		},
	)
)

func init() {
	prometheus.MustRegister(executionsTotal)
	prometheus.MustRegister(executionDuration)
	prometheus.MustRegister(executionsInflight)

	for _, o := range []string{outcomeExited, outcomeSignaled, outcomeSpawnFailed, outcomeIOFailure, outcomeInvalid} {
		executionsTotal.WithLabelValues(o)
	}
}
