package netboot

import (
	"context"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// Bootstrap brings up lo and the configured interface, assigns the address
// and installs the default route. It is safe to repeat.
func (n *Netlink) Bootstrap(ctx context.Context) error {
	prefix, gw, err := n.parse()
	if err != nil {
		return err
	}

	link, err := netlink.LinkByName(n.Interface)
	if err != nil {
		return fmt.Errorf("netboot: find interface %s: %w", n.Interface, err)
	}

	if lo, err := netlink.LinkByName("lo"); err == nil {
		if err := netlink.LinkSetUp(lo); err != nil {
			return fmt.Errorf("netboot: set lo up: %w", err)
		}
	}

	addr := &netlink.Addr{IPNet: &net.IPNet{
		IP:   net.IP(prefix.Addr().AsSlice()),
		Mask: net.CIDRMask(prefix.Bits(), prefix.Addr().BitLen()),
	}}
	if err := netlink.AddrReplace(link, addr); err != nil {
		return fmt.Errorf("netboot: assign %s to %s: %w", prefix, n.Interface, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("netboot: set %s up: %w", n.Interface, err)
	}

	if gw.IsValid() {
		route := &netlink.Route{
			LinkIndex: link.Attrs().Index,
			Gw:        net.IP(gw.AsSlice()),
		}
		if err := netlink.RouteReplace(route); err != nil {
			return fmt.Errorf("netboot: default route via %s: %w", gw, err)
		}
	}

	if n.Logger != nil {
		n.Logger.Info("network configured", "interface", n.Interface, "address", prefix.String(), "gateway", n.Gateway)
	}
	return ctx.Err()
}
