package transport

import (
	"fmt"
	"net"

	"github.com/mdlayher/vsock"
)

// Vsock listens on an AF_VSOCK port. A zero ContextID accepts connections
// addressed to any local context id.
type Vsock struct {
	ContextID uint32
	Port      uint32
}

func (v *Vsock) Name() string {
	if v.ContextID == 0 {
		return fmt.Sprintf("vsock:%d", v.Port)
	}
	return fmt.Sprintf("vsock:%d:%d", v.ContextID, v.Port)
}

func (v *Vsock) Listen() (net.Listener, error) {
	if v.ContextID == 0 {
		return vsock.Listen(v.Port, nil)
	}
	return vsock.ListenContextID(v.ContextID, v.Port, nil)
}
