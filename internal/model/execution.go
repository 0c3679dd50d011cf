package model

import "time"

// Execution outcome constants.
const (
	OutcomeExited      = "exited"
	OutcomeSignaled    = "signaled"
	OutcomeSpawnFailed = "spawn_failed"
	OutcomeIOFailure   = "io_failure"
	OutcomeInvalid     = "invalid_request"
)

// Request kind constants.
const (
	KindExec = "exec"
	KindRun  = "run"
	KindHTTP = "http_exec"
)

// Execution is the journal entry for one handled request. It holds a
// command summary, never the request environment or data.
type Execution struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Command    string    `json:"command"`
	Outcome    string    `json:"outcome"`
	ExitCode   *int32    `json:"exit_code,omitempty"`
	ExitSignal *int32    `json:"exit_signal,omitempty"`
	Error      string    `json:"error,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}

// Terminal reports whether the child ran to termination.
func (e *Execution) Terminal() bool {
	return e.Outcome == OutcomeExited || e.Outcome == OutcomeSignaled
}
