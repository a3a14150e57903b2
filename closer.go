package supertyphon

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/monzo/slog"
)

// closeServer closes the server a Test is responsible for (closeFn may be nil when there is none), logs what went
// wrong, tells app if it is a CloseObserver and finally returns the result of after.
//
// Closing a server which has already been closed is not an error. Neither a close failure nor serverErr stops after
// from being run.
func closeServer(ctx context.Context, closeFn func() error, app interface{}, serverErr error, after func() error) error {
	var closeErr error
	if closeFn != nil {
		if err := closeFn(); err != nil {
			if alreadyClosed(err) {
				slog.Debug(ctx, "Server was already closed: %v", err)
			} else {
				closeErr = err
			}
		}
	}

	if serverErr != nil {
		slog.Error(ctx, "Unexpected server error: %v", serverErr)
	}
	if closeErr != nil {
		slog.Error(ctx, "Unexpected error closing the server: %v", closeErr)
	}

	if o, ok := app.(CloseObserver); ok {
		o.Closed(serverErr, closeErr)
	}

	if after == nil {
		return nil
	}
	return after()
}

func alreadyClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed)
}
