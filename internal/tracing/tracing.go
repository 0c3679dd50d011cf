// Package tracing carries W3C trace context across the host-to-guest hop and
// wraps each execution in a span that is always ended.
package tracing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/gettakaro/fcagent/internal/execution"
)

// TracerName is the instrumentation scope used for agent spans.
const TracerName = "fcagent"

// Attribute keys recorded on execution spans.
const (
	AttrCommandLine = attribute.Key("process.command_line")
	AttrExitCode    = attribute.Key("process.exit_code")
	AttrExitSignal  = attribute.Key("process.exit_signal")
	AttrRequestID   = attribute.Key("fcagent.request_id")
)

// Event names emitted during an execution. The env, started and exited events
// are added by the executor through the span found in its context.
const (
	EventEnvMaterialized  = "env.materialized"
	EventProcessStarted   = "process.started"
	EventProcessExited    = "process.exited"
	EventResultSerialized = "result.serialized"
)

// The agent always speaks W3C trace context regardless of the global
// propagator, which defaults to a no-op.
var propagator = propagation.TraceContext{}

// Tracer returns the agent tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// Extract returns ctx with the remote span context found in carrier. A missing
// or invalid traceparent leaves ctx unchanged.
func Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return propagator.Extract(ctx, carrier)
}

// Inject writes the span context of ctx into carrier.
func Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	propagator.Inject(ctx, carrier)
}

// FieldCarrier adapts the traceparent/tracestate fields of a raw payload.
type FieldCarrier struct {
	TraceParent string
	TraceState  string
}

var _ propagation.TextMapCarrier = (*FieldCarrier)(nil)

func (c *FieldCarrier) Get(key string) string {
	switch strings.ToLower(key) {
	case "traceparent":
		return c.TraceParent
	case "tracestate":
		return c.TraceState
	}
	return ""
}

func (c *FieldCarrier) Set(key, value string) {
	switch strings.ToLower(key) {
	case "traceparent":
		c.TraceParent = value
	case "tracestate":
		c.TraceState = value
	}
}

func (c *FieldCarrier) Keys() []string {
	return []string{"traceparent", "tracestate"}
}

// Span is the handle passed to the function run by Run.
type Span struct {
	span trace.Span
}

// Event records a named point in the execution.
func (s *Span) Event(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// TraceID returns the hex trace id, or "" when the span is not recording a
// valid trace.
func (s *Span) TraceID() string {
	sc := s.span.SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// SetRequestID tags the span with the agent request id.
func (s *Span) SetRequestID(id string) {
	s.span.SetAttributes(AttrRequestID.String(id))
}

// SetCommand records the command line. With redact set only the program
// name is kept and arguments are replaced by a count.
func (s *Span) SetCommand(command []string, redact bool) {
	s.span.SetAttributes(AttrCommandLine.String(CommandLine(command, redact)))
}

// SetResult records the normalized exit status.
func (s *Span) SetResult(res execution.Result) {
	if res.ExitCode != nil {
		s.span.SetAttributes(AttrExitCode.Int64(int64(*res.ExitCode)))
	}
	if res.ExitSignal != nil {
		s.span.SetAttributes(AttrExitSignal.Int64(int64(*res.ExitSignal)))
	}
	s.span.SetAttributes(
		attribute.Int("process.stdout_bytes", len(res.Stdout)),
		attribute.Int("process.stderr_bytes", len(res.Stderr)),
	)
}

// Run starts a span named name as a child of ctx, calls fn with it and ends
// it on every exit path. An error returned by fn is recorded on the span; a
// panic is recorded and then re-raised.
func Run(ctx context.Context, tracer trace.Tracer, name string, fn func(ctx context.Context, span *Span) error) (err error) {
	ctx, span := tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			span.SetStatus(codes.Error, fmt.Sprintf("panic: %v", r))
			panic(r)
		}
	}()

	err = fn(ctx, &Span{span: span})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// CommandLine renders command for logs and spans.
func CommandLine(command []string, redact bool) string {
	if len(command) == 0 {
		return ""
	}
	if redact {
		if len(command) == 1 {
			return command[0]
		}
		return fmt.Sprintf("%s [%d args redacted]", command[0], len(command)-1)
	}
	return strings.Join(command, " ")
}
