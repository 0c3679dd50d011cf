// Package execution runs one requested program per call and normalizes its
// outcome. Each child gets an explicitly built environment, its own process
// group, and fully drained stdout/stderr.
package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultDataVar is the environment variable that carries Request.Data.
const DefaultDataVar = "DATA"

// DefaultOutputGrace bounds how long output is collected after the child
// has exited.
const DefaultOutputGrace = 250 * time.Millisecond

var (
	ErrInvalidRequest = errors.New("execution: invalid request")
	ErrSpawnFailed    = errors.New("execution: spawn failed")
	ErrIO             = errors.New("execution: output i/o failure")
)

// Request describes a single program invocation.
type Request struct {
	// Command is the program followed by its arguments. Command[0] is
	// resolved against the agent's PATH; no shell is involved.
	Command []string

	// Env overrides or extends the inherited environment.
	Env map[string]string

	// Data, when non-nil, is exposed under the reserved data variable.
	Data *string

	// Dir is the working directory. Empty means the agent's own.
	Dir string
}

// Result is the outcome of a process that ran to termination. On unix
// exactly one of ExitCode and ExitSignal is set.
type Result struct {
	ExitCode   *int32
	ExitSignal *int32
	Stdout     []byte
	Stderr     []byte
}

// Config controls an Executor.
type Config struct {
	// DataVar is the reserved variable name for Request.Data.
	DataVar string

	// Timeout bounds each execution. Zero means no limit.
	Timeout time.Duration

	// BaseEnv returns the environment children inherit. Defaults to os.Environ.
	BaseEnv func() []string

	// OutputGrace is how long output is still read after the child exits
	// while descendants hold its stdout or stderr open.
	OutputGrace time.Duration
}

// Executor spawns and waits for child processes. It is safe for concurrent use.
type Executor struct {
	cfg    Config
	logger *slog.Logger

	// reap is held for reading from just before a child is started until it
	// has been waited for, and for writing while orphans are reaped.
	reap   sync.RWMutex
	groups *groupSet
}

// New creates an Executor.
func New(cfg Config, logger *slog.Logger) *Executor {
	if cfg.DataVar == "" {
		cfg.DataVar = DefaultDataVar
	}
	if cfg.BaseEnv == nil {
		cfg.BaseEnv = os.Environ
	}
	if cfg.OutputGrace <= 0 {
		cfg.OutputGrace = DefaultOutputGrace
	}
	return &Executor{
		cfg:    cfg,
		logger: logger,
		groups: newGroupSet(),
	}
}

// Execute runs req to completion and returns its outcome. A program that
// cannot be started yields ErrSpawnFailed and no Result. Cancelling ctx does
// not stop the child; only the configured timeout does.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		executionsTotal.WithLabelValues(outcomeInvalid).Inc()
		return Result{}, err
	}

	start := time.Now()
	executionsInflight.Inc()
	defer executionsInflight.Dec()

	ctx = context.WithoutCancel(ctx)
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	span := trace.SpanFromContext(ctx)

	cmd := exec.CommandContext(ctx, req.Command[0], req.Command[1:]...)
	cmd.Env = BuildEnv(e.cfg.BaseEnv(), req, e.cfg.DataVar)
	span.AddEvent("env.materialized", trace.WithAttributes(
		attribute.Int("process.env_count", len(cmd.Env)),
		attribute.Bool("fcagent.data_set", req.Data != nil),
	))
	cmd.Dir = req.Dir
	cmd.SysProcAttr = sysProcAttr()
	cmd.Cancel = func() error {
		return killGroup(cmd.Process.Pid)
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		executionsTotal.WithLabelValues(outcomeSpawnFailed).Inc()
		return Result{}, fmt.Errorf("%w: stdout pipe: %v", ErrSpawnFailed, err)
	}
	defer stdoutR.Close()
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutW.Close()
		executionsTotal.WithLabelValues(outcomeSpawnFailed).Inc()
		return Result{}, fmt.Errorf("%w: stderr pipe: %v", ErrSpawnFailed, err)
	}
	defer stderrR.Close()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	e.reap.RLock()
	defer e.reap.RUnlock()

	startErr := cmd.Start()
	// The child holds its own copies of the write ends.
	stdoutW.Close()
	stderrW.Close()
	if startErr != nil {
		executionsTotal.WithLabelValues(outcomeSpawnFailed).Inc()
		return Result{}, fmt.Errorf("%w: %v", ErrSpawnFailed, startErr)
	}
	pid := cmd.Process.Pid
	e.groups.add(pid)
	defer e.groups.remove(pid)

	span.AddEvent("process.started", trace.WithAttributes(attribute.Int("process.pid", pid)))
	e.logger.Debug("process started", "pid", pid, "argv0", req.Command[0], "args", len(req.Command)-1)

	// Both pipes are drained concurrently with each other and with the wait,
	// so a child blocked on a full pipe can never stall its own exit.
	var stdout, stderr bytes.Buffer
	var g errgroup.Group
	drain := func(dst *bytes.Buffer, src *os.File) func() error {
		return func() error {
			_, err := io.Copy(dst, src)
			if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
				if kerr := killGroup(pid); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
					e.logger.Warn("kill process group", "pid", pid, "error", kerr)
				}
			}
			return err
		}
	}
	g.Go(drain(&stdout, stdoutR))
	g.Go(drain(&stderr, stderrR))

	waitErr := cmd.Wait()

	// Background descendants may keep the write ends open after the child
	// exits. Give them OutputGrace to finish writing, then stop reading.
	detach := time.AfterFunc(e.cfg.OutputGrace, func() {
		stdoutR.SetReadDeadline(time.Now())
		stderrR.SetReadDeadline(time.Now())
	})
	drainErr := g.Wait()
	detach.Stop()
	if errors.Is(drainErr, os.ErrDeadlineExceeded) {
		e.logger.Debug("output left open by descendants", "pid", pid, "grace", e.cfg.OutputGrace)
		drainErr = nil
	}

	executionDuration.Observe(time.Since(start).Seconds())
	span.AddEvent("process.exited")

	if drainErr != nil {
		executionsTotal.WithLabelValues(outcomeIOFailure).Inc()
		return Result{}, fmt.Errorf("%w: %v", ErrIO, drainErr)
	}
	if cmd.ProcessState == nil {
		executionsTotal.WithLabelValues(outcomeIOFailure).Inc()
		return Result{}, fmt.Errorf("%w: wait: %v", ErrIO, waitErr)
	}

	code, sig := exitStatus(cmd.ProcessState)
	res := Result{
		ExitCode:   code,
		ExitSignal: sig,
		Stdout:     stdout.Bytes(),
		Stderr:     stderr.Bytes(),
	}
	if sig != nil {
		executionsTotal.WithLabelValues(outcomeSignaled).Inc()
	} else {
		executionsTotal.WithLabelValues(outcomeExited).Inc()
	}

	e.logger.Debug("process exited", "pid", pid, "exit_code", deref(code), "exit_signal", deref(sig),
		"stdout_bytes", stdout.Len(), "stderr_bytes", stderr.Len(), "timed_out", ctx.Err() != nil)

	return res, nil
}

// KillAll sends SIGKILL to the process group of every running child and
// returns how many groups were signalled.
func (e *Executor) KillAll() int {
	n := 0
	for _, pid := range e.groups.snapshot() {
		if err := killGroup(pid); err != nil {
			if !errors.Is(err, os.ErrProcessDone) {
				e.logger.Warn("kill process group", "pid", pid, "error", err)
			}
			continue
		}
		n++
	}
	return n
}

// Running returns the number of children currently tracked.
func (e *Executor) Running() int {
	return len(e.groups.snapshot())
}

func deref(p *int32) any {
	if p == nil {
		return nil
	}
	return *p
}
