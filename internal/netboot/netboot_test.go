package netboot

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestNewNoopWithoutAddress(t *testing.T) {
	b, err := New("eth0", "", "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := b.(Noop); !ok {
		t.Fatalf("New = %T, want Noop", b)
	}
	if err := b.Bootstrap(context.Background()); err != nil {
		t.Errorf("Noop.Bootstrap: %v", err)
	}
}

func TestNewNetlink(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	b, err := New("", DefaultAddress, DefaultGateway, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n, ok := b.(*Netlink)
	if !ok {
		t.Fatalf("New = %T, want *Netlink", b)
	}
	if n.Interface != DefaultInterface {
		t.Errorf("Interface = %q, want %q", n.Interface, DefaultInterface)
	}
}

func TestNewInvalid(t *testing.T) {
	tests := []struct {
		name    string
		address string
		gateway string
	}{
		{"no prefix length", "172.16.0.2", ""},
		{"garbage address", "not-an-ip/24", ""},
		{"garbage gateway", "172.16.0.2/24", "gateway"},
		{"gateway outside subnet", "172.16.0.2/24", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New("eth0", tt.address, tt.gateway, nil); err == nil {
				t.Errorf("New(%q, %q) succeeded, want error", tt.address, tt.gateway)
			}
		})
	}
}

func TestSetupInitNotPID1(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	if SetupInit(logger) {
		t.Error("SetupInit reported PID 1 inside a test binary")
	}
}
