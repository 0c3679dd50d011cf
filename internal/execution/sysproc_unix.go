//go:build unix && !linux

package execution

import "syscall"

// sysProcAttr puts each child in its own process group.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
