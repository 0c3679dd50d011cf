//go:build !linux

package lifecycle

import (
	"errors"
	"os"
)

func setSubreaper() error {
	return errors.New("child subreaper requires linux")
}

func notifyChildExit(chan<- os.Signal) bool {
	return false
}
