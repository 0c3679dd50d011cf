//go:build !linux

package netboot

import (
	"context"
	"errors"
)

// Bootstrap is only supported on Linux.
func (n *Netlink) Bootstrap(context.Context) error {
	return errors.New("netboot: interface configuration requires linux")
}
