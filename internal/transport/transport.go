// Package transport provides the connection-acceptance capability shared by
// the agent's adapters. A Transport is either a vsock listener (production,
// inside the microVM) or a loopback TCP listener (local testing); both yield
// the same Listener and Conn types.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// Transport modes.
const (
	ModeVsock    = "vsock"
	ModeLoopback = "loopback"
)

// DefaultVsockPort is the port the agent listens on inside the microVM.
const DefaultVsockPort uint32 = 1024

// DefaultLoopbackAddr is the loopback address used in local testing mode.
const DefaultLoopbackAddr = "127.0.0.1:8080"

// ErrClosed is returned by Accept once the listener has been closed.
var ErrClosed = errors.New("transport: listener closed")

// Error records a bind or accept failure together with the transport name.
type Error struct {
	Op        string
	Transport string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Transport, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transport binds a listening endpoint.
type Transport interface {
	// Name identifies the transport in logs and errors.
	Name() string
	// Listen binds the endpoint.
	Listen() (net.Listener, error)
}

// Options selects and configures a Transport.
type Options struct {
	Mode         string
	VsockCID     uint32
	VsockPort    uint32
	LoopbackAddr string
}

// New returns the Transport for opts.Mode.
func New(opts Options) (Transport, error) {
	switch opts.Mode {
	case ModeVsock, "":
		port := opts.VsockPort
		if port == 0 {
			port = DefaultVsockPort
		}
		return &Vsock{ContextID: opts.VsockCID, Port: port}, nil
	case ModeLoopback:
		addr := opts.LoopbackAddr
		if addr == "" {
			addr = DefaultLoopbackAddr
		}
		return &Loopback{Addr: addr}, nil
	default:
		return nil, fmt.Errorf("transport: unknown mode %q (want %q or %q)", opts.Mode, ModeVsock, ModeLoopback)
	}
}

// Bind listens on t. Failures are returned as *Error with Op "bind".
func Bind(t Transport) (*Listener, error) {
	l, err := t.Listen()
	if err != nil {
		return nil, &Error{Op: "bind", Transport: t.Name(), Err: err}
	}
	return &Listener{l: l, name: t.Name()}, nil
}

// Listener is a bound transport endpoint. It implements net.Listener and
// hands out *Conn values.
type Listener struct {
	l    net.Listener
	name string
}

var _ net.Listener = (*Listener)(nil)

// Accept waits for the next connection.
func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.accept()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (l *Listener) accept() (*Conn, error) {
	c, err := l.l.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, &Error{Op: "accept", Transport: l.name, Err: err}
	}
	return &Conn{Conn: c}, nil
}

// Close stops accepting. Connections already accepted are unaffected.
func (l *Listener) Close() error { return l.l.Close() }

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.l.Addr() }

// Name returns the transport name.
func (l *Listener) Name() string { return l.name }

// Conn is one accepted connection, owned by the goroutine handling it.
type Conn struct {
	net.Conn
	once sync.Once
	err  error
}

type halfCloser interface {
	CloseWrite() error
	CloseRead() error
}

// CloseWrite half-closes the sending side when the underlying connection
// supports it.
func (c *Conn) CloseWrite() error {
	if hc, ok := c.Conn.(halfCloser); ok {
		return hc.CloseWrite()
	}
	return nil
}

// CloseRead half-closes the receiving side when the underlying connection
// supports it.
func (c *Conn) CloseRead() error {
	if hc, ok := c.Conn.(halfCloser); ok {
		return hc.CloseRead()
	}
	return nil
}

// Shutdown signals end of stream to the peer, stops reading and closes the
// connection. Only the first call has an effect.
func (c *Conn) Shutdown() error {
	c.once.Do(func() {
		c.CloseWrite()
		c.CloseRead()
		c.err = c.Conn.Close()
	})
	return c.err
}

// Close is equivalent to Shutdown.
func (c *Conn) Close() error {
	return c.Shutdown()
}
