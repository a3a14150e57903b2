package supertyphon

import (
	"errors"
	"net/http"
	"syscall"

	"github.com/monzo/slog"
)

// HttpHandler adapts a Service to net/http.
func HttpHandler(svc Service) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, httpReq *http.Request) {
		if httpReq.Body != nil {
			defer httpReq.Body.Close()
		}

		req := Request{
			Context: httpReq.Context(),
			Request: *httpReq}
		rsp := svc(req)
		if rsp.Response == nil {
			rsp.Response = newHTTPResponse(req, http.StatusOK)
		}

		// Write the response out to the wire
		for k, v := range rsp.Header {
			if k == "Content-Length" {
				continue
			}
			rw.Header()[k] = v
		}
		rw.WriteHeader(rsp.StatusCode)
		if rsp.Body != nil {
			defer rsp.Body.Close()
			buf := make([]byte, 32*1024)
			if _, err := copyChunked(rw, rsp.Body, buf); err != nil {
				sev := slog.WarnSeverity
				var errno syscall.Errno
				if errors.As(err, &errno) {
					sev = copyErrnoSeverity(errno)
				}
				slog.Log(slog.Eventf(sev, req, "Error copying response body: %v", err))
			}
		}
	})
}

// HandlerService adapts a net/http Handler to a Service. The handler writes into the Response rather than to the
// wire; http.Flusher and http.Hijacker are not available to it.
func HandlerService(h http.Handler) Service {
	return func(req Request) Response {
		rsp := NewResponse(req)
		h.ServeHTTP(rsp.Writer(), req.Request.WithContext(req.Context))
		return rsp
	}
}
