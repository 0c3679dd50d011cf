package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/gettakaro/fcagent/internal/execution"
	"github.com/gettakaro/fcagent/internal/journal"
	"github.com/gettakaro/fcagent/internal/model"
	"github.com/gettakaro/fcagent/internal/tracing"
	"github.com/gettakaro/fcagent/internal/wire"
)

// dataField is the environment field exposed under the reserved data variable.
const dataField = "data"

// ExecutionIDHeader carries the journal id of an execution.
const ExecutionIDHeader = "X-Execution-Id"

type execRequest struct {
	Command     []string                   `json:"command"`
	Environment map[string]json.RawMessage `json:"environment"`
}

type execResponse struct {
	ExitCode   *int32 `json:"exit_code"`
	ExitSignal *int32 `json:"exit_signal"`
	Stdout     []byte `json:"stdout"`
	Stderr     []byte `json:"stderr"`
}

// flattenEnvironment turns the JSON environment object into child env
// entries. Strings are taken verbatim, null is skipped and anything else
// becomes its compact JSON text. The data field is returned separately.
func flattenEnvironment(fields map[string]json.RawMessage) (map[string]string, *string, error) {
	env := make(map[string]string, len(fields))
	var data *string
	for k, raw := range fields {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		if k == dataField {
			text, err := compactJSON(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("environment field %q: %w", k, err)
			}
			data = &text
			continue
		}
		if raw[0] == '"' {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, nil, fmt.Errorf("environment field %q: %w", k, err)
			}
			env[k] = s
			continue
		}
		text, err := compactJSON(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("environment field %q: %w", k, err)
		}
		env[k] = text
	}
	return env, data, nil
}

func compactJSON(raw json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBody)

	var body execRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, wire.CodeTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			return
		}
		s.writeError(w, http.StatusBadRequest, wire.CodeMalformed, "invalid request body: "+err.Error())
		return
	}

	env, data, err := flattenEnvironment(body.Environment)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, wire.CodeMalformed, err.Error())
		return
	}

	id := model.NewID()
	logger := s.logger.With("request_id", middleware.GetReqID(r.Context()), "execution_id", id)
	req := execution.Request{Command: body.Command, Env: env, Data: data}
	command := tracing.CommandLine(req.Command, s.cfg.RedactArgs)
	start := time.Now()

	ctx := tracing.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	var (
		res     execution.Result
		traceID string
	)
	err = tracing.Run(ctx, s.cfg.Tracer, "fcagent."+model.KindHTTP, func(ctx context.Context, span *tracing.Span) error {
		traceID = span.TraceID()
		span.SetRequestID(id)
		span.SetCommand(req.Command, s.cfg.RedactArgs)
		tracing.Inject(ctx, propagation.HeaderCarrier(w.Header()))

		var err error
		res, err = s.exec.Execute(ctx, req)
		if err != nil {
			return err
		}
		span.SetResult(res)
		span.Event(tracing.EventResultSerialized, attribute.Int("http.stdout_bytes", len(res.Stdout)))
		return nil
	})

	entry := journal.NewExecution(id, model.KindHTTP, command, traceID, start, res, err)
	observeExec(entry.Outcome, len(res.Stdout), len(res.Stderr))
	s.cfg.Journal.Record(ctx, entry)
	w.Header().Set(ExecutionIDHeader, id)

	if err != nil {
		logger.Warn("execution failed", "command", command, "error", err)
		status, code := errorStatus(err)
		s.writeError(w, status, code, err.Error())
		return
	}

	logger.Info("execution finished", "command", command,
		"exit_code", res.ExitCode, "exit_signal", res.ExitSignal,
		"duration_ms", time.Since(start).Milliseconds())

	resp := execResponse{
		ExitCode:   res.ExitCode,
		ExitSignal: res.ExitSignal,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
	}
	if resp.Stdout == nil {
		resp.Stdout = []byte{}
	}
	if resp.Stderr == nil {
		resp.Stderr = []byte{}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, execution.ErrInvalidRequest):
		return http.StatusBadRequest, wire.CodeInvalidRequest
	case errors.Is(err, execution.ErrSpawnFailed):
		return http.StatusUnprocessableEntity, wire.CodeSpawnFailed
	case errors.Is(err, execution.ErrIO):
		return http.StatusInternalServerError, wire.CodeIOFailure
	default:
		return http.StatusInternalServerError, wire.CodeInternal
	}
}
