package lifecycle

import (
	"log/slog"
	"os"
	"os/signal"
	"time"
)

// reapRetry is how long the reaper waits before retrying while executions
// hold the reap lock.
const reapRetry = 100 * time.Millisecond

func (c *Controller) startReaper(done <-chan struct{}) {
	ex := c.cfg.Executor
	if ex == nil {
		return
	}
	pid1 := os.Getpid() == 1
	if !pid1 && !c.cfg.Subreaper {
		return
	}
	if !pid1 {
		if err := setSubreaper(); err != nil {
			c.logger.Warn("child subreaper unavailable", "error", err)
			return
		}
	}

	wake := make(chan os.Signal, 1)
	if !notifyChildExit(wake) {
		return
	}
	c.logger.Info("orphan reaper started", "pid1", pid1)
	go func() {
		defer signal.Stop(wake)
		reapLoop(done, wake, ex.ReapOrphans, c.logger)
	}()
}

// reapLoop calls reap whenever wake fires. While reap reports busy it is
// retried every reapRetry, so orphans that exit during an execution are
// collected once it finishes.
func reapLoop(done <-chan struct{}, wake <-chan os.Signal, reap func() (int, bool), logger *slog.Logger) {
	var retry <-chan time.Time
	for {
		select {
		case <-done:
			return
		case <-wake:
		case <-retry:
		}

		n, busy := reap()
		retry = nil
		if busy {
			retry = time.After(reapRetry)
		}
		if n > 0 {
			orphansReaped.Add(float64(n))
			logger.Debug("reaped orphans", "count", n)
		}
	}
}
