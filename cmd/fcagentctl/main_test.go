package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gettakaro/fcagent/internal/execution"
	"github.com/gettakaro/fcagent/internal/wire"
)

func TestEnvFlags(t *testing.T) {
	env := envFlags{}
	if err := env.Set("A=1=2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if env["A"] != "1=2" {
		t.Errorf("A = %q, want %q", env["A"], "1=2")
	}
	for _, bad := range []string{"NOEQUALS", "=value"} {
		if err := env.Set(bad); err == nil {
			t.Errorf("Set(%q) succeeded, want error", bad)
		}
	}
}

func TestPrintResultExitCode(t *testing.T) {
	code, sig := int32(3), int32(9)
	tests := []struct {
		name string
		res  wire.ResultPayload
		want int
	}{
		{"exited", wire.ResultPayload{ExitCode: &code}, 3},
		{"signaled", wire.ResultPayload{ExitSignal: &sig}, 137},
		{"neither", wire.ResultPayload{}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := printResult(tt.res, false)
			if err != nil {
				t.Fatalf("printResult: %v", err)
			}
			if got != tt.want {
				t.Errorf("exit = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWriteOutputText(t *testing.T) {
	var buf bytes.Buffer
	if err := writeOutput(&buf, []byte{0xff, 0xfe}, false); err != nil {
		t.Fatalf("raw write: %v", err)
	}
	if buf.Len() != 2 {
		t.Errorf("raw write wrote %d bytes, want 2", buf.Len())
	}

	buf.Reset()
	err := writeOutput(&buf, []byte{0xff, 0xfe}, true)
	if !errors.Is(err, execution.ErrInvalidUTF8) {
		t.Errorf("text write = %v, want ErrInvalidUTF8", err)
	}
	if buf.Len() != 0 {
		t.Errorf("text write emitted %d bytes on error", buf.Len())
	}
}
