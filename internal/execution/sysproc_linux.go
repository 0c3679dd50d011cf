package execution

import "syscall"

// sysProcAttr puts each child in its own process group and has the kernel
// kill it if the agent dies first.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}
