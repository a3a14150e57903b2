//go:build !linux && !darwin

package supertyphon

import (
	"syscall"

	"github.com/monzo/slog"
)

func copyErrnoSeverity(err syscall.Errno) slog.Severity {
	return slog.WarnSeverity
}
