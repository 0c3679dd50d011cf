package transport

import (
	"fmt"
	"net"
)

// Loopback listens on a TCP address that must resolve to a loopback
// interface. It exists for running the agent outside a microVM.
type Loopback struct {
	Addr string
}

func (l *Loopback) Name() string { return "loopback:" + l.Addr }

func (l *Loopback) Listen() (net.Listener, error) {
	host, _, err := net.SplitHostPort(l.Addr)
	if err != nil {
		return nil, err
	}
	if !isLoopbackHost(host) {
		return nil, fmt.Errorf("address %q is not a loopback address", l.Addr)
	}
	return net.Listen("tcp", l.Addr)
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
