package hostclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gettakaro/fcagent/internal/agent"
	"github.com/gettakaro/fcagent/internal/execution"
	"github.com/gettakaro/fcagent/internal/wire"
)

func startAgent(t *testing.T, l net.Listener, cfg agent.Config) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	srv := agent.New(cfg, execution.New(execution.Config{}, logger), logger)
	go srv.Serve(l)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
}

func startLoopback(t *testing.T, cfg agent.Config) *Client {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	startAgent(t, l, cfg)
	return Loopback(l.Addr().String())
}

// bridgeListener mimics Firecracker's vsock UDS: each accepted connection
// must complete the CONNECT handshake before it reaches the agent.
type bridgeListener struct {
	net.Listener
	port  uint32
	reply string
}

func (b *bridgeListener) Accept() (net.Conn, error) {
	for {
		conn, err := b.Listener.Accept()
		if err != nil {
			return nil, err
		}
		r := bufio.NewReader(conn)
		line, err := r.ReadString('\n')
		if err != nil {
			conn.Close()
			continue
		}
		if strings.TrimSpace(line) != fmt.Sprintf("CONNECT %d", b.port) || b.reply != "" {
			reply := b.reply
			if reply == "" {
				reply = "FAILURE"
			}
			fmt.Fprintf(conn, "%s\n", reply)
			conn.Close()
			continue
		}
		fmt.Fprintf(conn, "OK 1073741824\n")
		return &guestConn{Conn: conn, reader: r}, nil
	}
}

func udsPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "v.sock")
}

func TestGuestExec(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}
	path := udsPath(t)
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	startAgent(t, &bridgeListener{Listener: l, port: 1024}, agent.Config{})

	res, err := Guest(path, 1024).Exec(context.Background(), wire.ExecPayload{Command: []string{"echo", "hi"}})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", res.ExitCode)
	}
	if string(res.Stdout) != "hi\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "hi\n")
	}
}

func TestGuestHandshakeRejected(t *testing.T) {
	path := udsPath(t)
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	startAgent(t, &bridgeListener{Listener: l, port: 1024, reply: "FAILURE no listener"}, agent.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = DialGuest(ctx, path, 1024)
	if err == nil || !strings.Contains(err.Error(), "CONNECT failed") {
		t.Fatalf("DialGuest = %v, want CONNECT failure", err)
	}
}

func TestDialGuestRetriesUntilSocketExists(t *testing.T) {
	path := udsPath(t)
	go func() {
		time.Sleep(150 * time.Millisecond)
		l, err := net.Listen("unix", path)
		if err != nil {
			return
		}
		startAgent(t, &bridgeListener{Listener: l, port: 7}, agent.Config{})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Guest(path, 7).Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestDialGuestGivesUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := DialGuest(ctx, filepath.Join(t.TempDir(), "missing.sock"), 1024)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("DialGuest = %v, want deadline exceeded", err)
	}
}

func TestLoopbackPing(t *testing.T) {
	c := startLoopback(t, agent.Config{})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestLoopbackRemoteError(t *testing.T) {
	c := startLoopback(t, agent.Config{})

	_, err := c.Exec(context.Background(), wire.ExecPayload{Command: []string{"no-such-binary-xyz"}})
	var rerr *RemoteError
	if !errors.As(err, &rerr) {
		t.Fatalf("Exec = %v, want *RemoteError", err)
	}
	if rerr.Code != wire.CodeSpawnFailed {
		t.Errorf("Code = %q, want %q", rerr.Code, wire.CodeSpawnFailed)
	}
}

func TestLoopbackRun(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	c := startLoopback(t, agent.Config{WorkDir: t.TempDir(), RunCommand: "sh"})

	out, err := c.Run(context.Background(), wire.RunPayload{Code: "echo ran"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Result != nil || string(out.Output) != "ran\n" {
		t.Errorf("Run = %+v, want output %q", out, "ran\n")
	}

	out, err = c.Run(context.Background(), wire.RunPayload{Code: "exit 4"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Result == nil || out.Result.ExitCode == nil || *out.Result.ExitCode != 4 {
		t.Errorf("Run = %+v, want result with exit 4", out)
	}
}

func TestExecCanceled(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	c := startLoopback(t, agent.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.Exec(ctx, wire.ExecPayload{Command: []string{"sleep", "2"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Exec = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("Exec returned after %v, want prompt return", time.Since(start))
	}
}
