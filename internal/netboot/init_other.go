//go:build !linux

package netboot

import "log/slog"

// SetupInit is a no-op outside Linux.
func SetupInit(logger *slog.Logger) bool {
	return false
}
