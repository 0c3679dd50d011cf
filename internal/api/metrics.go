package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gettakaro/fcagent/internal/model"
)

const unmatchedRoute = "unmatched"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fcagent_http_requests_total",
			Help: "HTTP adapter requests by route and status code.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fcagent_http_request_duration_seconds",
			Help:    "HTTP adapter request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	httpExecTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fcagent_http_exec_total",
			Help: "Executions requested through POST /exec, by journal outcome.",
		},
		[]string{"outcome"},
	)

	httpExecOutputBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fcagent_http_exec_output_bytes",
			Help:    "Captured output size of executions answered over HTTP.",
			Buckets: prometheus.ExponentialBuckets(64, 8, 8),
		},
		[]string{"stream"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpExecTotal, httpExecOutputBytes)

	for _, o := range []string{
		model.OutcomeExited,
		model.OutcomeSignaled,
		model.OutcomeSpawnFailed,
		model.OutcomeIOFailure,
		model.OutcomeInvalid,
	} {
		httpExecTotal.WithLabelValues(o)
	}
}

// observeExec counts one /exec call by outcome and, when the child ran,
// records how much it wrote to each stream.
func observeExec(outcome string, stdout, stderr int) {
	httpExecTotal.WithLabelValues(outcome).Inc()
	if outcome != model.OutcomeExited && outcome != model.OutcomeSignaled {
		return
	}
	httpExecOutputBytes.WithLabelValues("stdout").Observe(float64(stdout))
	httpExecOutputBytes.WithLabelValues("stderr").Observe(float64(stderr))
}

// metricsMiddleware records count and latency per chi route pattern, so
// execution ids in /v1/executions/{id} do not become label values.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// MetricsRouter serves /metrics and /health on their own. The raw adapter
// uses it when a metrics address is configured.
func MetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}
