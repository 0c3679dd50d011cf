// Package api serves the structured HTTP adapter: the same execution engine
// as the raw protocol, behind a chi router with JSON bodies.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/gettakaro/fcagent/internal/execution"
	"github.com/gettakaro/fcagent/internal/journal"
)

const (
	readHeaderTimeout = 10 * time.Second
	defaultMaxBody    = 16 << 20
)

// Config controls a Server.
type Config struct {
	// MaxBody bounds a request body in bytes.
	MaxBody    int64
	RedactArgs bool

	Tracer  trace.Tracer
	Journal *journal.Recorder
}

// Server wraps the chi router and application dependencies.
type Server struct {
	cfg    Config
	router *chi.Mux
	exec   *execution.Executor
	logger *slog.Logger
	http   *http.Server
}

// NewServer creates and configures a new HTTP server.
func NewServer(cfg Config, ex *execution.Executor, logger *slog.Logger) *Server {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = defaultMaxBody
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("")
	}

	srv := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		exec:   ex,
		logger: logger,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id", "Traceparent", "Tracestate"},
		ExposedHeaders:   []string{"X-Request-Id", "Traceparent", "Tracestate"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	srv.http = &http.Server{
		Handler:           srv.router,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/health", handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Post("/exec", s.handleExec)

	s.router.Route("/v1/executions", func(r chi.Router) {
		r.Get("/", s.handleListExecutions)
		r.Get("/{id}", s.handleGetExecution)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Serve answers HTTP requests on l until Shutdown is called. It returns nil
// after a graceful shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("http adapter serving", "addr", l.Addr().String())
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
