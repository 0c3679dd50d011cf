package lifecycle

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

func setSubreaper() error {
	return unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0)
}

func notifyChildExit(c chan<- os.Signal) bool {
	signal.Notify(c, unix.SIGCHLD)
	return true
}
