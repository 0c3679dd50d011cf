// Command fcagentctl talks to an fcagent from the host: through a
// Firecracker vsock UDS, or over loopback when the agent runs locally.
//
// Usage:
//
//	fcagentctl exec [-uds path | -addr host:port] [-env K=V]... [-data JSON] [-text] -- prog args...
//	fcagentctl run  [-uds path | -addr host:port] [-config JSON] file
//	fcagentctl ping [-uds path | -addr host:port]
//	fcagentctl health [-url http://127.0.0.1:8080]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gettakaro/fcagent/internal/execution"
	"github.com/gettakaro/fcagent/internal/hostclient"
	"github.com/gettakaro/fcagent/internal/transport"
	"github.com/gettakaro/fcagent/internal/wire"
)

type connFlags struct {
	uds     string
	port    uint
	addr    string
	timeout time.Duration
}

func (c *connFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.uds, "uds", "", "Firecracker vsock UDS path")
	fs.UintVar(&c.port, "port", uint(transport.DefaultVsockPort), "guest vsock port")
	fs.StringVar(&c.addr, "addr", transport.DefaultLoopbackAddr, "loopback agent address (used when -uds is empty)")
	fs.DurationVar(&c.timeout, "timeout", 60*time.Second, "request timeout")
}

func (c *connFlags) client() *hostclient.Client {
	if c.uds != "" {
		return hostclient.Guest(c.uds, uint32(c.port))
	}
	return hostclient.Loopback(c.addr)
}

// envFlags collects repeated -env K=V flags.
type envFlags map[string]string

func (e envFlags) String() string { return fmt.Sprint(map[string]string(e)) }

func (e envFlags) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || k == "" {
		return fmt.Errorf("want KEY=VALUE, got %q", v)
	}
	e[k] = val
	return nil
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	var (
		code int
		err  error
	)
	switch os.Args[1] {
	case "exec":
		code, err = runExec(os.Args[2:])
	case "run":
		code, err = runRun(os.Args[2:])
	case "ping":
		err = runPing(os.Args[2:])
	case "health":
		err = runHealth(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fatalf("%v", err)
	}
	os.Exit(code)
}

func runExec(args []string) (int, error) {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	var conn connFlags
	conn.register(fs)
	env := envFlags{}
	fs.Var(env, "env", "environment variable KEY=VALUE (repeatable)")
	data := fs.String("data", "", "value for the agent's data variable")
	text := fs.Bool("text", false, "print output as text and fail on invalid UTF-8")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return 0, errors.New("exec: missing command")
	}
	p := wire.ExecPayload{Command: fs.Args(), Env: env}
	if *data != "" {
		p.Data = data
	}

	ctx, cancel := context.WithTimeout(context.Background(), conn.timeout)
	defer cancel()
	res, err := conn.client().Exec(ctx, p)
	if err != nil {
		return 0, err
	}
	return printResult(res, *text)
}

func runRun(args []string) (int, error) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var conn connFlags
	conn.register(fs)
	config := fs.String("config", "", "JSON config exposed to the script")
	text := fs.Bool("text", false, "print output as text and fail on invalid UTF-8")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return 0, errors.New("run: want exactly one file (- for stdin)")
	}
	code, err := readSource(fs.Arg(0))
	if err != nil {
		return 0, err
	}
	p := wire.RunPayload{Code: code}
	if *config != "" {
		p.Config = config
	}

	ctx, cancel := context.WithTimeout(context.Background(), conn.timeout)
	defer cancel()
	out, err := conn.client().Run(ctx, p)
	if err != nil {
		return 0, err
	}
	if out.Result != nil {
		return printResult(*out.Result, *text)
	}
	return 0, writeOutput(os.Stdout, out.Output, *text)
}

func runPing(args []string) error {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	var conn connFlags
	conn.register(fs)
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), conn.timeout)
	defer cancel()
	start := time.Now()
	if err := conn.client().Ping(ctx); err != nil {
		return err
	}
	fmt.Printf("pong in %s\n", time.Since(start).Round(time.Microsecond))
	return nil
}

func runHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	url := fs.String("url", "http://"+transport.DefaultLoopbackAddr, "agent HTTP base URL")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")
	fs.Parse(args)

	client := &http.Client{Timeout: *timeout}
	resp, err := client.Get(strings.TrimRight(*url, "/") + "/health")
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health: status %d: %s", resp.StatusCode, body)
	}
	fmt.Println(string(body))
	return nil
}

// printResult writes the captured streams and returns the exit code the
// command should exit with: the child's code, or 128+signal.
func printResult(res wire.ResultPayload, text bool) (int, error) {
	if err := writeOutput(os.Stdout, res.Stdout, text); err != nil {
		return 0, fmt.Errorf("stdout: %w", err)
	}
	if err := writeOutput(os.Stderr, res.Stderr, text); err != nil {
		return 0, fmt.Errorf("stderr: %w", err)
	}
	switch {
	case res.ExitSignal != nil:
		return 128 + int(*res.ExitSignal), nil
	case res.ExitCode != nil:
		return int(*res.ExitCode), nil
	default:
		return 1, nil
	}
}

func writeOutput(w io.Writer, b []byte, text bool) error {
	if text {
		s, err := execution.Result{Stdout: b}.StdoutText()
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, s)
		return err
	}
	_, err := w.Write(b)
	return err
}

func readSource(path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: fcagentctl <exec|run|ping|health> [flags] [args]")
	os.Exit(2)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fcagentctl: "+format+"\n", args...)
	os.Exit(1)
}
