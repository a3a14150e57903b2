package supertyphon

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/monzo/terrors"
)

const defaultHost = "127.0.0.1"

// An endpoint is where the requests of one Test go. Requests must not be dispatched before both of its gates are open:
// serverReady once the server accepts connections, urlReady once the base URL is known.
type endpoint struct {
	target      *target
	serverReady *gate
	urlReady    *gate
	url         string // written before urlReady opens

	// server is the Server created for this endpoint, if any
	server *Server
	// closeFn closes whatever server this endpoint is responsible for. It is nil for URL targets.
	closeFn func() error
}

type endpointConfig struct {
	host       string
	secure     bool
	serverOpts []ServerOption
}

// resolveEndpoint works out the URL for path on t. Listenable and handler targets have a server bound for them on an
// ephemeral port; a server target which is not yet listening is waited for in the background until ctx is done.
func resolveEndpoint(ctx context.Context, t *target, path string, cfg endpointConfig) *endpoint {
	e := &endpoint{
		target:      t,
		serverReady: newGate(),
		urlReady:    newGate()}
	host := cfg.host
	if host == "" {
		host = defaultHost
	}

	switch t.kind {
	case urlTarget:
		e.url = t.url + path
		e.serverReady = openGate(nil)
		e.urlReady = openGate(nil)

	case listenableTarget:
		// Listeners are bound in plain HTTP
		srv, err := t.listenable.Listen(net.JoinHostPort(host, "0"))
		e.bound(srv, err, "http", host, path)

	case handlerTarget:
		scheme := "http"
		if cfg.secure {
			scheme = "https"
		}
		srv, err := Listen(t.svc.Filter(ErrorFilter), net.JoinHostPort(host, "0"), cfg.serverOpts...)
		e.bound(srv, err, scheme, host, path)

	case serverTarget:
		e.closeFn = t.close
		scheme := "http"
		if cfg.secure {
			scheme = "https"
		}
		if t.ready == nil || t.ready.Listening() {
			e.serverReady.open(nil)
			e.deriveURL(scheme, host, path)
			break
		}
		go func() {
			select {
			case <-t.ready.Ready():
				e.serverReady.open(nil)
				e.deriveURL(scheme, host, path)
			case <-ctx.Done():
				e.serverReady.open(ctx.Err())
				e.urlReady.open(ctx.Err())
			}
		}()
	}
	return e
}

func (e *endpoint) bound(srv *Server, err error, scheme, host, path string) {
	if err == nil && srv == nil {
		err = terrors.InternalService("no_server", "Listen returned no server", nil)
	}
	if err != nil {
		err = terrors.Wrap(err, map[string]string{
			"target_kind": e.target.kind.String()})
		e.serverReady.open(err)
		e.urlReady.open(err)
		return
	}
	e.server = srv
	e.closeFn = srv.Close
	e.serverReady.open(nil)
	e.setURL(scheme, host, srv.Addr(), path)
}

func (e *endpoint) deriveURL(scheme, host, path string) {
	addr, ok := e.target.addr()
	if !ok {
		e.urlReady.open(terrors.InternalService("no_address", "server is not bound to an address", nil))
		return
	}
	e.setURL(scheme, host, addr, path)
}

func (e *endpoint) setURL(scheme, host string, addr net.Addr, path string) {
	port, err := portOf(addr)
	if err != nil {
		e.urlReady.open(err)
		return
	}
	e.url = fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(host, strconv.Itoa(port)), path)
	e.urlReady.open(nil)
}

// serverErr returns any error recorded by the server created for this endpoint.
func (e *endpoint) serverErr() error {
	if e.server == nil {
		return nil
	}
	return e.server.Err()
}

func portOf(addr net.Addr) (int, error) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port, nil
	}
	_, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0, terrors.Wrap(err, map[string]string{
			"addr": addr.String()})
	}
	return strconv.Atoi(p)
}

// loopbackHostPort is the host:port at which addr can be reached, through host if one is given, or the loopback
// interface.
func loopbackHostPort(addr net.Addr, host string) string {
	port, err := portOf(addr)
	if err != nil {
		return addr.String()
	}
	if host == "" {
		host = defaultHost
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
