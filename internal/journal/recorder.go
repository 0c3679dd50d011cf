package journal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gettakaro/fcagent/internal/execution"
	"github.com/gettakaro/fcagent/internal/model"
)

// Outcome classifies the result of one Execute call.
func Outcome(res execution.Result, err error) string {
	switch {
	case err == nil && res.ExitSignal != nil:
		return model.OutcomeSignaled
	case err == nil:
		return model.OutcomeExited
	case errors.Is(err, execution.ErrInvalidRequest):
		return model.OutcomeInvalid
	case errors.Is(err, execution.ErrSpawnFailed):
		return model.OutcomeSpawnFailed
	default:
		return model.OutcomeIOFailure
	}
}

// NewExecution builds the journal entry for one handled request.
func NewExecution(id, kind, command, traceID string, start time.Time, res execution.Result, err error) *model.Execution {
	e := &model.Execution{
		ID:         id,
		Kind:       kind,
		Command:    command,
		Outcome:    Outcome(res, err),
		ExitCode:   res.ExitCode,
		ExitSignal: res.ExitSignal,
		TraceID:    traceID,
		DurationMS: time.Since(start).Milliseconds(),
		StartedAt:  start.UTC(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Recorder writes entries to an optional Store. A nil Store disables it.
// Write failures are logged and never reach the caller.
type Recorder struct {
	Store  Store
	Logger *slog.Logger
}

// Record stores e if a Store is configured.
func (r *Recorder) Record(ctx context.Context, e *model.Execution) {
	if r == nil || r.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.Store.Record(ctx, e); err != nil && r.Logger != nil {
		r.Logger.Warn("journal write failed", "request_id", e.ID, "error", err)
	}
}

// Enabled reports whether entries are persisted.
func (r *Recorder) Enabled() bool {
	return r != nil && r.Store != nil
}
