package lifecycle

import "github.com/prometheus/client_golang/prometheus"

var stateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "fcagent_lifecycle_state",
	Help: "Current lifecycle state (0 network_pending, 1 listener_bound, 2 serving, 3 draining, 4 stopped).",
})

var orphansReaped = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "fcagent_orphans_reaped_total",
	Help: "Orphaned child processes reaped by the agent.",
})

func init() {
	prometheus.MustRegister(stateGauge)
	prometheus.MustRegister(orphansReaped)
}
