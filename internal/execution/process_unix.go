//go:build unix

package execution

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// killGroup sends SIGKILL to the process group led by pid.
func killGroup(pid int) error {
	err := unix.Kill(-pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

// exitStatus splits a wait status into an exit code or a terminating signal.
func exitStatus(state *os.ProcessState) (code, signal *int32) {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			s := int32(ws.Signal())
			return nil, &s
		}
		if ws.Exited() {
			c := int32(ws.ExitStatus())
			return &c, nil
		}
	}
	c := int32(state.ExitCode())
	return &c, nil
}

// ReapOrphans collects every terminated child that no execution is waiting
// for, such as grandchildren re-parented to the agent. It returns busy=true
// without reaping while any execution is between start and wait, so that an
// execution's own exit status is never consumed here.
func (e *Executor) ReapOrphans() (reaped int, busy bool) {
	if !e.reap.TryLock() {
		return 0, true
	}
	defer e.reap.Unlock()

	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || pid <= 0 {
			return reaped, false
		}
		reaped++
		e.logger.Debug("reaped orphan", "pid", pid, "exit_status", ws.ExitStatus(), "signaled", ws.Signaled())
	}
}
