package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gettakaro/fcagent/internal/execution"
	"github.com/gettakaro/fcagent/internal/journal"
	"github.com/gettakaro/fcagent/internal/model"
	"github.com/gettakaro/fcagent/internal/tracing"
	"github.com/gettakaro/fcagent/internal/wire"
)

func (s *Server) dispatch(logger *slog.Logger, id string, f wire.Frame) wire.Frame {
	switch f.Kind {
	case wire.KindExec:
		return s.handleExec(logger, id, f.Payload)
	case wire.KindRun:
		return s.handleRun(logger, id, f.Payload)
	case wire.KindPing:
		return wire.Frame{Kind: wire.KindPong}
	default:
		logger.Warn("unknown request kind", "kind", f.Kind.String())
		return errorFrame(wire.CodeMalformed, fmt.Sprintf("unknown request kind %s", f.Kind))
	}
}

func (s *Server) handleExec(logger *slog.Logger, id string, payload []byte) wire.Frame {
	p, err := wire.DecodeExecPayload(payload)
	if err != nil {
		logger.Warn("decode exec request", "error", err)
		return errorFrame(wire.CodeMalformed, err.Error())
	}

	ctx := tracing.Extract(context.Background(), &tracing.FieldCarrier{TraceParent: p.TraceParent, TraceState: p.TraceState})
	req := execution.Request{Command: p.Command, Env: p.Env, Data: p.Data}
	return s.execute(ctx, logger, id, model.KindExec, req, resultFrame)
}

func (s *Server) handleRun(logger *slog.Logger, id string, payload []byte) wire.Frame {
	p, err := wire.DecodeRunPayload(payload)
	if err != nil {
		logger.Warn("decode run request", "error", err)
		return errorFrame(wire.CodeMalformed, err.Error())
	}

	dir, entry, err := s.prepareRun(id, p.Code)
	if err != nil {
		logger.Error("prepare run directory", "error", err)
		return errorFrame(wire.CodeInternal, err.Error())
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("remove run directory", "dir", dir, "error", err)
		}
	}()

	ctx := tracing.Extract(context.Background(), &tracing.FieldCarrier{TraceParent: p.TraceParent, TraceState: p.TraceState})
	req := execution.Request{
		Command: s.runCommand(entry),
		Data:    p.Config,
		Dir:     dir,
	}
	return s.execute(ctx, logger, id, model.KindRun, req, func(res execution.Result) wire.Frame {
		if res.ExitCode != nil && *res.ExitCode == 0 {
			return wire.Frame{Kind: wire.KindOutput, Payload: res.Stdout}
		}
		return resultFrame(res)
	})
}

// execute runs req inside a span, renders the response with render and
// journals the outcome.
func (s *Server) execute(ctx context.Context, logger *slog.Logger, id, kind string, req execution.Request, render func(execution.Result) wire.Frame) wire.Frame {
	start := time.Now()
	command := tracing.CommandLine(req.Command, s.cfg.RedactArgs)

	var (
		resp    wire.Frame
		res     execution.Result
		traceID string
	)
	err := tracing.Run(ctx, s.cfg.Tracer, "fcagent."+kind, func(ctx context.Context, span *tracing.Span) error {
		traceID = span.TraceID()
		span.SetRequestID(id)
		span.SetCommand(req.Command, s.cfg.RedactArgs)

		var err error
		res, err = s.exec.Execute(ctx, req)
		if err != nil {
			resp = errorFrame(errorCode(err), err.Error())
			return err
		}
		span.SetResult(res)
		resp = render(res)
		span.Event(tracing.EventResultSerialized, attribute.Int("wire.payload_bytes", len(resp.Payload)))
		return nil
	})

	if err != nil {
		logger.Warn("execution failed", "kind", kind, "command", command, "error", err)
	} else {
		logger.Info("execution finished", "kind", kind, "command", command,
			"exit_code", res.ExitCode, "exit_signal", res.ExitSignal,
			"duration_ms", time.Since(start).Milliseconds())
	}

	s.cfg.Journal.Record(ctx, journal.NewExecution(id, kind, command, traceID, start, res, err))
	return resp
}

func resultFrame(res execution.Result) wire.Frame {
	p := wire.ResultPayload{
		ExitCode:   res.ExitCode,
		ExitSignal: res.ExitSignal,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
	}
	return wire.Frame{Kind: wire.KindResult, Payload: p.Encode()}
}

func errorFrame(code, message string) wire.Frame {
	p := wire.ErrorPayload{Code: code, Message: message}
	return wire.Frame{Kind: wire.KindError, Payload: p.Encode()}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, execution.ErrInvalidRequest):
		return wire.CodeInvalidRequest
	case errors.Is(err, execution.ErrSpawnFailed):
		return wire.CodeSpawnFailed
	case errors.Is(err, execution.ErrIO):
		return wire.CodeIOFailure
	default:
		return wire.CodeInternal
	}
}
