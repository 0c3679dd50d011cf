package agent

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gettakaro/fcagent/internal/wire"
)

// Label values not covered by wire kinds and error codes.
const (
	kindUnknown = "unknown"
	resultOK    = "ok"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fcagent_raw_requests_total",
			Help: "Total number of raw protocol requests by kind and result.",
		},
		[]string{"kind", "result"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fcagent_raw_request_duration_seconds",
			Help:    "Time from a decoded request frame to its response, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fcagent_raw_connections_active",
			Help: "Number of raw protocol connections being handled.",
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(connectionsActive)

	for _, k := range []wire.Kind{wire.KindExec, wire.KindRun} {
		requestsTotal.WithLabelValues(k.String(), resultOK)
		requestsTotal.WithLabelValues(k.String(), wire.CodeSpawnFailed)
	}
	requestsTotal.WithLabelValues(wire.KindPing.String(), resultOK)
}

func kindLabel(k wire.Kind) string {
	switch k {
	case wire.KindExec, wire.KindRun, wire.KindPing:
		return k.String()
	default:
		return kindUnknown
	}
}

// resultLabel returns "ok" or the error code carried by an error frame.
func resultLabel(f wire.Frame) string {
	if f.Kind != wire.KindError {
		return resultOK
	}
	p, err := wire.DecodeErrorPayload(f.Payload)
	if err != nil {
		return wire.CodeInternal
	}
	return p.Code
}
