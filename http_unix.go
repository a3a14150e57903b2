//go:build linux || darwin

package supertyphon

import (
	"syscall"

	"github.com/monzo/slog"
)

func copyErrnoSeverity(err syscall.Errno) slog.Severity {
	switch err {
	case syscall.EPIPE, syscall.ECONNRESET: // the client has gone away, most likely because its Test timed out
		return slog.DebugSeverity
	default:
		return slog.WarnSeverity
	}
}
