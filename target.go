package supertyphon

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
)

type targetKind int

const (
	urlTarget        targetKind = iota // a base URL, never closed
	listenableTarget                   // binds a server of its own per Test
	serverTarget                       // already bound; closed after the exchange
	handlerTarget                      // served by a Server created per Test
)

func (k targetKind) String() string {
	switch k {
	case urlTarget:
		return "url"
	case listenableTarget:
		return "listenable"
	case serverTarget:
		return "server"
	default:
		return "handler"
	}
}

// Listenable is a target which binds its own Server when asked to. The returned Server is owned, and closed, by the
// Test that asked for it.
type Listenable interface {
	Listen(addr string) (*Server, error)
}

// CloseObserver is implemented by targets which want to know when the server of a Test has been closed. serverErr is
// the error the exchange failed with at the transport level (if any); closeErr is the error closing failed with.
type CloseObserver interface {
	Closed(serverErr, closeErr error)
}

// Readiness is implemented by servers which bind asynchronously. While Listening is false, no address is derived from
// the server until Ready is closed.
type Readiness interface {
	Listening() bool
	Ready() <-chan struct{}
}

type listenerAddresser interface {
	Listener() net.Listener
}

type multiAddresser interface {
	Addrs() []net.Addr
}

type addresser interface {
	Addr() net.Addr
}

type stopper interface {
	Stop(ctx context.Context)
}

// target is a classified Test target. Exactly the fields of its kind are set.
type target struct {
	kind targetKind
	app  interface{}

	url string // urlTarget

	listenable Listenable // listenableTarget

	addr  func() (net.Addr, bool) // serverTarget
	ready Readiness               // serverTarget, optional
	close func() error            // serverTarget

	svc Service // handlerTarget
}

// classify works out what kind of target app is, failing with a configuration error if it is none.
func classify(app interface{}) (*target, error) {
	t := &target{app: app}
	switch v := app.(type) {
	case nil:
		return nil, configurationError(app)
	case string:
		t.kind = urlTarget
		t.url = v
		return t, nil
	case *httptest.Server:
		// The test which started it owns it
		t.kind = urlTarget
		t.url = v.URL
		return t, nil
	case Listenable:
		t.kind = listenableTarget
		t.listenable = v
		return t, nil
	case Service:
		t.kind = handlerTarget
		t.svc = v
		return t, nil
	case func(Request) Response:
		t.kind = handlerTarget
		t.svc = Service(v)
		return t, nil
	case *http.Server:
		if v.Handler == nil {
			return nil, configurationError(app)
		}
		t.kind = handlerTarget
		t.svc = HandlerService(v.Handler)
		return t, nil
	case http.Handler:
		t.kind = handlerTarget
		t.svc = HandlerService(v)
		return t, nil
	case func(http.ResponseWriter, *http.Request):
		t.kind = handlerTarget
		t.svc = HandlerService(http.HandlerFunc(v))
		return t, nil
	}

	addr, ok := addressOf(app)
	if !ok {
		return nil, configurationError(app)
	}
	closeFn, ok := closerOf(app)
	if !ok {
		return nil, configurationError(app)
	}
	t.kind = serverTarget
	t.addr = addr
	t.close = closeFn
	t.ready, _ = app.(Readiness)
	return t, nil
}

// addressOf picks the address shape a server exposes. The returned function reports false while no socket is bound.
func addressOf(app interface{}) (func() (net.Addr, bool), bool) {
	switch v := app.(type) {
	case listenerAddresser:
		return func() (net.Addr, bool) {
			l := v.Listener()
			if l == nil {
				return nil, false
			}
			return l.Addr(), l.Addr() != nil
		}, true
	case multiAddresser:
		return func() (net.Addr, bool) {
			for _, a := range v.Addrs() {
				if a != nil {
					return a, true
				}
			}
			return nil, false
		}, true
	case addresser:
		return func() (net.Addr, bool) {
			a := v.Addr()
			return a, a != nil
		}, true
	}
	return nil, false
}

func closerOf(app interface{}) (func() error, bool) {
	switch v := app.(type) {
	case io.Closer:
		return v.Close, true
	case stopper:
		return func() error {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			v.Stop(ctx)
			return nil
		}, true
	}
	return nil, false
}
