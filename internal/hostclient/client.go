// Package hostclient speaks the agent's raw protocol from the host side,
// either through Firecracker's vsock UDS bridge or over loopback TCP.
package hostclient

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/gettakaro/fcagent/internal/tracing"
	"github.com/gettakaro/fcagent/internal/wire"
)

// RemoteError is an error response sent by the agent.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("agent error %s: %s", e.Code, e.Message)
}

// DialFunc opens one connection to the agent. The agent answers a single
// request per connection.
type DialFunc func(ctx context.Context) (net.Conn, error)

// Client sends requests to one agent.
type Client struct {
	dial   DialFunc
	limits wire.Limits
}

// New returns a Client that opens connections with dial.
func New(dial DialFunc) *Client {
	return &Client{dial: dial, limits: wire.DefaultLimits()}
}

// Guest returns a Client for an agent behind a Firecracker vsock UDS.
func Guest(udsPath string, port uint32) *Client {
	return New(func(ctx context.Context) (net.Conn, error) {
		return DialGuest(ctx, udsPath, port)
	})
}

// Loopback returns a Client for an agent listening on a loopback address.
func Loopback(addr string) *Client {
	return New(func(ctx context.Context) (net.Conn, error) {
		return DialLoopback(ctx, addr)
	})
}

// RunOutput is the answer to a run request: Output on success, otherwise
// the full Result.
type RunOutput struct {
	Output []byte
	Result *wire.ResultPayload
}

// Exec runs a command in the guest. The trace context of ctx is forwarded
// unless p already carries one.
func (c *Client) Exec(ctx context.Context, p wire.ExecPayload) (wire.ResultPayload, error) {
	if p.TraceParent == "" {
		carrier := &tracing.FieldCarrier{}
		tracing.Inject(ctx, carrier)
		p.TraceParent, p.TraceState = carrier.TraceParent, carrier.TraceState
	}
	resp, err := c.roundTrip(ctx, wire.Frame{Kind: wire.KindExec, Payload: p.Encode()})
	if err != nil {
		return wire.ResultPayload{}, err
	}
	if resp.Kind != wire.KindResult {
		return wire.ResultPayload{}, fmt.Errorf("unexpected response kind %s", resp.Kind)
	}
	return wire.DecodeResultPayload(resp.Payload)
}

// Run sends code to the guest's configured runtime.
func (c *Client) Run(ctx context.Context, p wire.RunPayload) (RunOutput, error) {
	if p.TraceParent == "" {
		carrier := &tracing.FieldCarrier{}
		tracing.Inject(ctx, carrier)
		p.TraceParent, p.TraceState = carrier.TraceParent, carrier.TraceState
	}
	resp, err := c.roundTrip(ctx, wire.Frame{Kind: wire.KindRun, Payload: p.Encode()})
	if err != nil {
		return RunOutput{}, err
	}
	switch resp.Kind {
	case wire.KindOutput:
		return RunOutput{Output: resp.Payload}, nil
	case wire.KindResult:
		res, err := wire.DecodeResultPayload(resp.Payload)
		if err != nil {
			return RunOutput{}, err
		}
		return RunOutput{Result: &res}, nil
	default:
		return RunOutput{}, fmt.Errorf("unexpected response kind %s", resp.Kind)
	}
}

// Ping checks that the agent is serving.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.roundTrip(ctx, wire.Frame{Kind: wire.KindPing})
	if err != nil {
		return err
	}
	if resp.Kind != wire.KindPong {
		return fmt.Errorf("unexpected response kind %s", resp.Kind)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, req wire.Frame) (wire.Frame, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return wire.Frame{}, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := wire.WriteFrame(conn, req); err != nil {
		return wire.Frame{}, c.ctxErr(ctx, fmt.Errorf("send request: %w", err))
	}
	resp, err := wire.ReadFrame(conn, c.limits)
	if err != nil {
		return wire.Frame{}, c.ctxErr(ctx, fmt.Errorf("read response: %w", err))
	}
	if resp.Kind == wire.KindError {
		p, err := wire.DecodeErrorPayload(resp.Payload)
		if err != nil {
			return wire.Frame{}, fmt.Errorf("decode error response: %w", err)
		}
		return wire.Frame{}, &RemoteError{Code: p.Code, Message: p.Message}
	}
	return resp, nil
}

// ctxErr prefers the context's error when a failure was caused by
// cancellation closing the connection.
func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(ctxErr, err)
	}
	return err
}
