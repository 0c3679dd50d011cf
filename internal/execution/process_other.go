//go:build !unix

package execution

import (
	"os"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

func killGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

// exitStatus reports only the exit code; signal information is unavailable.
func exitStatus(state *os.ProcessState) (code, signal *int32) {
	c := int32(state.ExitCode())
	return &c, nil
}

// ReapOrphans is a no-op on platforms without wait4.
func (e *Executor) ReapOrphans() (reaped int, busy bool) {
	return 0, false
}
