// Package lifecycle drives the agent from boot to exit: network bootstrap,
// listener bind, serving, graceful drain and the final stop.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gettakaro/fcagent/internal/execution"
	"github.com/gettakaro/fcagent/internal/netboot"
	"github.com/gettakaro/fcagent/internal/transport"
)

// State is a lifecycle phase. States only move forward.
type State int32

const (
	NetworkPending State = iota
	ListenerBound
	Serving
	Draining
	Stopped
)

var stateNames = [...]string{"network_pending", "listener_bound", "serving", "draining", "stopped"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int32(s))
	}
	return stateNames[s]
}

// ErrAlreadyRunning is returned when Run is called more than once.
var ErrAlreadyRunning = errors.New("lifecycle: already running")

// Adapter answers requests on a bound listener. Shutdown stops accepting and
// waits for in-flight requests until ctx is done.
type Adapter interface {
	Serve(l net.Listener) error
	Shutdown(ctx context.Context) error
}

// Config wires a Controller.
type Config struct {
	// Bootstrap must succeed before the listener is bound. Nil means Noop.
	Bootstrap netboot.Bootstrapper
	Transport transport.Transport
	Adapter   Adapter

	// Executor owns the child process groups torn down on forced
	// termination and the orphans collected by the reaper. Optional.
	Executor *execution.Executor

	// DrainTimeout bounds the graceful drain. Zero waits indefinitely.
	DrainTimeout time.Duration

	// Subreaper registers the agent as child subreaper so orphans are
	// re-parented to it. The reaper always runs when the agent is PID 1.
	Subreaper bool
}

// Controller runs the agent's state machine.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	state   atomic.Int32
	running atomic.Bool
	addr    atomic.Pointer[net.Addr]

	signals  chan os.Signal
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a Controller in the NetworkPending state.
func New(cfg Config, logger *slog.Logger) *Controller {
	if cfg.Bootstrap == nil {
		cfg.Bootstrap = netboot.Noop{}
	}
	c := &Controller{
		cfg:     cfg,
		logger:  logger,
		signals: make(chan os.Signal, 2),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	stateGauge.Set(float64(NetworkPending))
	return c
}

// State returns the current phase.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Addr returns the bound listener address, or nil before ListenerBound.
func (c *Controller) Addr() net.Addr {
	if a := c.addr.Load(); a != nil {
		return *a
	}
	return nil
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	stateGauge.Set(float64(s))
	c.logger.Info("lifecycle state", "state", s.String())
}

// Run bootstraps the network, binds the transport and serves until a
// termination signal, ctx cancellation or Shutdown. It returns nil after a
// graceful drain and an error if startup fails or the adapter stops on its
// own.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)
	defer c.setState(Stopped)

	if err := c.cfg.Bootstrap.Bootstrap(ctx); err != nil {
		return fmt.Errorf("network bootstrap: %w", err)
	}

	l, err := transport.Bind(c.cfg.Transport)
	if err != nil {
		return err
	}
	defer l.Close()
	addr := l.Addr()
	c.addr.Store(&addr)
	c.setState(ListenerBound)
	c.logger.Info("listener bound", "transport", l.Name(), "addr", addr.String())

	signal.Notify(c.signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c.signals)

	reaperDone := make(chan struct{})
	defer close(reaperDone)
	c.startReaper(reaperDone)

	served := make(chan error, 1)
	go func() {
		served <- c.cfg.Adapter.Serve(l)
	}()
	c.setState(Serving)

	select {
	case err := <-served:
		if err == nil {
			err = errors.New("adapter stopped unexpectedly")
		}
		c.drain(nil)
		return fmt.Errorf("serve: %w", err)
	case sig := <-c.signals:
		c.logger.Info("termination signal received", "signal", sig.String())
	case <-ctx.Done():
		c.logger.Info("context done", "error", ctx.Err())
	case <-c.stop:
	}

	c.drain(served)
	return nil
}

// Shutdown requests a graceful drain and waits until Run has returned or ctx
// is done. Calling it more than once is the same as calling it once.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stop) })
	if !c.running.Load() {
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain moves to Draining, stops the adapter and waits for in-flight
// requests. A second termination signal or an expired drain timeout kills
// every tracked child group so the remaining requests finish promptly.
func (c *Controller) drain(served <-chan error) {
	c.setState(Draining)

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.cfg.DrainTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), c.cfg.DrainTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	shut := make(chan error, 1)
	go func() {
		shut <- c.cfg.Adapter.Shutdown(ctx)
	}()

wait:
	for {
		select {
		case err := <-shut:
			if err != nil {
				c.logger.Warn("drain incomplete", "error", err)
				c.killChildren("drain timeout")
			}
			break wait
		case sig := <-c.signals:
			c.logger.Warn("second termination signal during drain", "signal", sig.String())
			c.killChildren("second signal")
			cancel()
		}
	}

	if served != nil {
		if err := <-served; err != nil {
			c.logger.Debug("adapter returned", "error", err)
		}
	}
}

func (c *Controller) killChildren(reason string) {
	if c.cfg.Executor == nil {
		return
	}
	if n := c.cfg.Executor.KillAll(); n > 0 {
		c.logger.Warn("killed child process groups", "count", n, "reason", reason)
	}
}
