// Package agent serves the raw framed protocol: one request frame and one
// response frame per connection.
package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/gettakaro/fcagent/internal/execution"
	"github.com/gettakaro/fcagent/internal/journal"
	"github.com/gettakaro/fcagent/internal/model"
	"github.com/gettakaro/fcagent/internal/transport"
	"github.com/gettakaro/fcagent/internal/wire"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("agent: server closed")

// DefaultRunEntry is the file name code is written to for run requests.
const DefaultRunEntry = "index.js"

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Config controls a Server.
type Config struct {
	Limits     wire.Limits
	RedactArgs bool

	// WorkDir holds one directory per run request.
	WorkDir string
	// RunCommand is the runtime invoked for run requests, split on spaces.
	RunCommand string
	// RunEntry is the file name run code is written to.
	RunEntry string

	Tracer  trace.Tracer
	Journal *journal.Recorder
}

// Server accepts connections and answers one framed request on each.
type Server struct {
	cfg    Config
	exec   *execution.Executor
	logger *slog.Logger

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	closed    atomic.Bool
	wg        sync.WaitGroup
}

// New creates a Server that runs requests on ex.
func New(cfg Config, ex *execution.Executor, logger *slog.Logger) *Server {
	if cfg.Limits.MaxPayload == 0 {
		cfg.Limits = wire.DefaultLimits()
	}
	if cfg.RunEntry == "" {
		cfg.RunEntry = DefaultRunEntry
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Server{
		cfg:       cfg,
		exec:      ex,
		logger:    logger,
		listeners: make(map[net.Listener]struct{}),
	}
}

// Serve accepts connections on l until Shutdown is called or l fails
// permanently. Transient accept errors are logged and retried with backoff.
func (s *Server) Serve(l net.Listener) error {
	if !s.track(l) {
		return ErrServerClosed
	}
	defer s.untrack(l)

	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, transport.ErrClosed) || errors.Is(err, net.ErrClosed) {
				return err
			}
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}
			s.logger.Warn("accept failed", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !s.trackConn() {
			conn.Close()
			return ErrServerClosed
		}
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Shutdown stops accepting new connections and waits until every accepted
// connection has been answered or ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed.Store(true)
	for l := range s.listeners {
		l.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) track(l net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.listeners[l] = struct{}{}
	return true
}

// trackConn registers an accepted connection with the wait group. It reports
// false once Shutdown has started, so no Add can race with Wait.
func (s *Server) trackConn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(l net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, l)
}

type shutdowner interface {
	Shutdown() error
}

func closeConn(c net.Conn) {
	if sc, ok := c.(shutdowner); ok {
		sc.Shutdown()
		return
	}
	c.Close()
}

// handleConn reads one request frame, answers it and closes c.
func (s *Server) handleConn(c net.Conn) {
	defer closeConn(c)

	id := model.NewID()
	logger := s.logger.With("request_id", id, "remote", remoteAddr(c))

	connectionsActive.Inc()
	defer connectionsActive.Dec()

	f, err := wire.ReadFrame(c, s.cfg.Limits)
	if err != nil {
		switch {
		case errors.Is(err, io.EOF):
			logger.Debug("peer closed before sending a request")
		case errors.Is(err, wire.ErrTooLarge):
			logger.Warn("request rejected", "error", err)
			requestsTotal.WithLabelValues(kindUnknown, wire.CodeTooLarge).Inc()
			s.writeResponse(logger, c, errorFrame(wire.CodeTooLarge, err.Error()))
		case errors.Is(err, wire.ErrTruncated):
			logger.Warn("truncated request", "error", err)
			requestsTotal.WithLabelValues(kindUnknown, wire.CodeTruncated).Inc()
			// The peer may have half-closed its side and still be reading.
			s.writeResponse(logger, c, errorFrame(wire.CodeTruncated, err.Error()))
		default:
			logger.Warn("read request", "error", err)
		}
		return
	}

	start := time.Now()
	resp := s.dispatch(logger, id, f)
	requestDuration.WithLabelValues(kindLabel(f.Kind)).Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(kindLabel(f.Kind), resultLabel(resp)).Inc()

	s.writeResponse(logger, c, resp)
}

func (s *Server) writeResponse(logger *slog.Logger, c net.Conn, f wire.Frame) {
	if err := wire.WriteFrame(c, f); err != nil {
		logger.Warn("write response", "kind", f.Kind.String(), "error", err)
		return
	}
	logger.Debug("response written", "kind", f.Kind.String(), "payload_bytes", len(f.Payload))
}

func remoteAddr(c net.Conn) string {
	if a := c.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
