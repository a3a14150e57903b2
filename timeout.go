package supertyphon

import (
	"context"
	"fmt"
	"time"

	"github.com/monzo/terrors"
)

const (
	deadlineTimeout = "deadline"
	responseTimeout = "response"
)

// Timeouts bounds a single attempt of a Test's request. A zero value disables the corresponding bound.
type Timeouts struct {
	// Deadline bounds the whole attempt, from dialling until the body has been read.
	Deadline time.Duration
	// Response bounds the wait for the response headers.
	Response time.Duration
}

func (t Timeouts) zero() bool {
	return t.Deadline <= 0 && t.Response <= 0
}

type responseTimeoutKey struct{}

func responseTimeoutFromContext(ctx context.Context) time.Duration {
	d, _ := ctx.Value(responseTimeoutKey{}).(time.Duration)
	return d
}

func timeoutError(kind string, d time.Duration) error {
	msg := fmt.Sprintf("Timeout of %v exceeded", d)
	if kind == responseTimeout {
		msg = fmt.Sprintf("Response timeout of %v exceeded", d)
	}
	return terrors.Timeout(kind, msg, map[string]string{
		"timeout": d.String(),
		"kind":    kind})
}

// timeoutCause returns the timeout which cancelled ctx, if there was one, and err otherwise.
func timeoutCause(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && terrors.Is(cause, terrors.ErrTimeout) {
		return cause
	}
	return err
}

// TimeoutFilter applies the given timeouts to every request passing through it. A request which exceeds its deadline
// is answered with a timeout error without waiting for the downstream Service; the abandoned call is handed to the
// in-flight tracker of the request's context (if any) so that it is still waited for before a Test completes.
func TimeoutFilter(t Timeouts) Filter {
	return func(req Request, svc Service) Response {
		if t.zero() {
			return svc(req)
		}
		if t.Response > 0 {
			req.Context = context.WithValue(req.Context, responseTimeoutKey{}, t.Response)
		}
		if t.Deadline <= 0 {
			return svc(req)
		}

		ctx, cancel := context.WithTimeoutCause(req.Context, t.Deadline, timeoutError(deadlineTimeout, t.Deadline))
		defer cancel()
		req.Context = ctx
		f := req.SendVia(svc)
		select {
		case <-f.WaitC():
			rsp := f.Response()
			if rsp.Error != nil {
				rsp.Error = timeoutCause(ctx, rsp.Error)
			}
			return rsp
		case <-ctx.Done():
			f.Cancel()
			trackerFromContext(ctx).add(f)
			return Response{
				Request: &req,
				Error:   terrors.Wrap(timeoutCause(ctx, ctx.Err()), nil)}
		}
	}
}
