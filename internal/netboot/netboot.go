// Package netboot prepares the guest before the agent binds its listener:
// init-style mounts when running as PID 1, and the guest network interface.
package netboot

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
)

// Defaults matching the host VMM's boot arguments.
const (
	DefaultInterface = "eth0"
	DefaultAddress   = "172.16.0.2/24"
	DefaultGateway   = "172.16.0.1"
)

// Bootstrapper brings up whatever the agent needs before it can serve.
type Bootstrapper interface {
	Bootstrap(ctx context.Context) error
}

// Noop is a Bootstrapper that does nothing. It is used when the network is
// configured by someone else, such as the kernel ip= boot argument.
type Noop struct{}

func (Noop) Bootstrap(context.Context) error { return nil }

// Netlink configures one interface with a static address and default route.
type Netlink struct {
	Interface string
	Address   string // CIDR, e.g. 172.16.0.2/24
	Gateway   string // optional

	Logger *slog.Logger
}

// New returns a Netlink bootstrapper for the given settings, or Noop when no
// address is configured.
func New(iface, address, gateway string, logger *slog.Logger) (Bootstrapper, error) {
	if address == "" {
		return Noop{}, nil
	}
	if iface == "" {
		iface = DefaultInterface
	}
	n := &Netlink{Interface: iface, Address: address, Gateway: gateway, Logger: logger}
	if _, _, err := n.parse(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Netlink) parse() (netip.Prefix, netip.Addr, error) {
	prefix, err := netip.ParsePrefix(n.Address)
	if err != nil {
		return netip.Prefix{}, netip.Addr{}, fmt.Errorf("netboot: parse address %q: %w", n.Address, err)
	}
	var gw netip.Addr
	if n.Gateway != "" {
		gw, err = netip.ParseAddr(n.Gateway)
		if err != nil {
			return netip.Prefix{}, netip.Addr{}, fmt.Errorf("netboot: parse gateway %q: %w", n.Gateway, err)
		}
		if !prefix.Contains(gw) {
			return netip.Prefix{}, netip.Addr{}, fmt.Errorf("netboot: gateway %s is outside %s", gw, prefix.Masked())
		}
	}
	return prefix, gw, nil
}
