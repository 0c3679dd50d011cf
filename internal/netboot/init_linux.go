package netboot

import (
	"errors"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// mountEntry describes a filesystem mount for init mode.
type mountEntry struct {
	source string
	target string
	fstype string
	flags  uintptr
}

var initMounts = []mountEntry{
	{source: "proc", target: "/proc", fstype: "proc", flags: unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC},
	{source: "sysfs", target: "/sys", fstype: "sysfs", flags: unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC},
	{source: "devtmpfs", target: "/dev", fstype: "devtmpfs", flags: unix.MS_NOSUID},
}

// initEnv is the baseline environment installed when the agent is PID 1 and
// the kernel passed none.
var initEnv = map[string]string{
	"HOME": "/root",
	"PATH": "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
}

// SetupInit mounts essential filesystems and sets up the minimal environment
// required when running as PID 1 inside a microVM. It reports whether the
// agent is PID 1.
func SetupInit(logger *slog.Logger) bool {
	if os.Getpid() != 1 {
		return false
	}

	logger.Info("running as PID 1, mounting essential filesystems")

	for _, m := range initMounts {
		if err := os.MkdirAll(m.target, 0o755); err != nil {
			logger.Warn("mkdir failed", "target", m.target, "error", err)
			continue
		}
		err := unix.Mount(m.source, m.target, m.fstype, m.flags, "")
		if err != nil && !errors.Is(err, unix.EBUSY) {
			logger.Warn("mount failed", "target", m.target, "error", err)
		}
	}

	// Baseline environment inherited by every child. Set once, before the
	// listener is bound.
	for k, v := range initEnv {
		if os.Getenv(k) == "" {
			os.Setenv(k, v)
		}
	}
	return true
}
