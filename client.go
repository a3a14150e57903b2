package supertyphon

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/monzo/slog"
	"golang.org/x/net/http2"
)

// A ResponseFuture is the asynchronous result of sending a Request through a Service.
type ResponseFuture struct {
	cancel context.CancelFunc
	done   <-chan struct{} // guards access to r
	r      Response
}

// WaitC returns a channel which is closed once the Response is available.
func (f *ResponseFuture) WaitC() <-chan struct{} {
	return f.done
}

// Response blocks until the Response is available and returns it.
func (f *ResponseFuture) Response() Response {
	<-f.WaitC()
	return f.r
}

// Cancel cancels the context of the in-flight Request. The Response still becomes available (most likely carrying a
// cancellation error) and must still be waited for.
func (f *ResponseFuture) Cancel() {
	f.cancel()
}

// HttpService returns a Service which sends requests via the given net/http RoundTripper.
//
// The response body is read in its entirety before the Service returns, so a Response may be inspected any number of
// times after the server that produced it has gone away.
func HttpService(rt http.RoundTripper) Service {
	return Service(func(req Request) Response {
		ctx := req.Context
		stop := func() bool { return false }
		if d := responseTimeoutFromContext(ctx); d > 0 {
			var cancel context.CancelCauseFunc
			ctx, cancel = context.WithCancelCause(ctx)
			defer cancel(nil)
			timer := time.AfterFunc(d, func() {
				cancel(timeoutError(responseTimeout, d))
			})
			stop = timer.Stop
		}

		httpRsp, err := rt.RoundTrip(req.Request.WithContext(ctx))
		stop()
		if err != nil {
			err = timeoutCause(ctx, err)
		}

		// Read the response in its entirety and close the Response body here; this protects us from callers that
		// forget to call Close() but does not allow streaming responses.
		if httpRsp != nil && httpRsp.Body != nil {
			var buf []byte
			buf, err = io.ReadAll(httpRsp.Body)
			httpRsp.Body.Close()
			if err != nil {
				slog.Warn(req, "Error reading response body: %v", err)
				err = timeoutCause(ctx, err)
			}
			httpRsp.Body = newBufCloser(buf)
		}

		return Response{
			Response: httpRsp,
			Error:    wrapTransportError(err)}
	})
}

// SendVia round-trips the request via the passed Service. It does not block, instead returning a ResponseFuture
// representing the asynchronous operation to produce the response.
func SendVia(req Request, svc Service) *ResponseFuture {
	ctx, cancel := context.WithCancel(req.Context)
	req.Context = ctx
	done := make(chan struct{}, 0)
	f := &ResponseFuture{
		done:   done,
		cancel: cancel}
	go func() {
		defer close(done)
		defer cancel() // if already cancelled on escape, this is a no-op
		f.r = svc(req)
	}()
	return f
}

// newTransport builds the RoundTripper owned by a single Test. Connections are never kept alive: once the Test is done
// nothing may be left connected to the server it closes.
func newTransport(tlsConfig *tls.Config, h2c bool) http.RoundTripper {
	if h2c {
		return &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				d := net.Dialer{Timeout: 10 * time.Second}
				return d.DialContext(ctx, network, addr)
			}}
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: -1}).DialContext,
		TLSClientConfig:   tlsConfig,
		DisableKeepAlives: true,
		ForceAttemptHTTP2: tlsConfig != nil}
}
