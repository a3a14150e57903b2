package supertyphon

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/monzo/slog"
	"github.com/monzo/terrors"
)

// closeTimeout bounds the graceful part of Server.Close; connections still open after it are forcibly closed.
const closeTimeout = 5 * time.Second

// A Server serves a Service over HTTP. Servers built by this package for a Test (around a handler target, or by a
// Router's Listen) are owned by that Test and closed once its exchange is over.
type Server struct {
	l              net.Listener
	srv            *http.Server
	tls            bool          // l terminates TLS
	serving        chan struct{} // closed when the accept loop has returned
	shuttingDown   chan struct{}
	shutdownOnce   sync.Once
	shutdownFuncs  []func(context.Context)
	shutdownFuncsM sync.Mutex
	errM           sync.Mutex
	err            error
}

// ServerOption allows customizing the underling http.Server
type ServerOption func(*Server)

// Listener returns the network listener that this server is active on.
func (s *Server) Listener() net.Listener {
	return s.l
}

// Addr returns the address the server is bound to.
func (s *Server) Addr() net.Addr {
	return s.l.Addr()
}

// URL returns the base URL of the server, on the loopback interface when it is bound to all interfaces.
func (s *Server) URL() string {
	scheme := "http"
	if s.tls {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, loopbackHostPort(s.Addr(), ""))
}

// Done returns a channel that will be closed when the server begins to shutdown. The server may still be draining its
// connections at the time the channel is closed.
func (s *Server) Done() <-chan struct{} {
	return s.shuttingDown
}

// Err returns the first unexpected error the server encountered: a failure of its accept loop or a panic in the
// Service it serves.
func (s *Server) Err() error {
	s.errM.Lock()
	defer s.errM.Unlock()
	return s.err
}

func (s *Server) recordError(err error) {
	s.errM.Lock()
	defer s.errM.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Stop shuts down the server, returning when there are no more connections still open. Graceful shutdown will be
// attempted until the passed context expires, at which time all connections will be forcibly terminated.
func (s *Server) Stop(ctx context.Context) {
	s.stop(ctx)
}

// Close stops the server, allowing in-flight connections a short grace period. Closing a server more than once
// returns net.ErrClosed.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	stopped, err := s.stop(ctx)
	if !stopped {
		return net.ErrClosed
	}
	return err
}

func (s *Server) stop(ctx context.Context) (stopped bool, err error) {
	s.shutdownFuncsM.Lock()
	defer s.shutdownFuncsM.Unlock()
	s.shutdownOnce.Do(func() {
		stopped = true
		close(s.shuttingDown)
		// Shut down the HTTP server in parallel to calling any custom shutdown functions
		wg := sync.WaitGroup{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if shutdownErr := s.srv.Shutdown(ctx); shutdownErr != nil {
				slog.Debug(ctx, "Graceful shutdown failed; forcibly closing connections 👢")
				if closeErr := s.srv.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
					err = closeErr
				}
			}
		}()
		for _, f := range s.shutdownFuncs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				f(ctx)
			}()
		}
		wg.Wait()
		<-s.serving
	})
	return stopped, err
}

// addShutdownFunc registers a function that will be called when the server is stopped. The function is expected to try
// to shutdown gracefully until the context expires, at which time it should terminate its work forcefully.
func (s *Server) addShutdownFunc(f func(context.Context)) {
	s.shutdownFuncsM.Lock()
	defer s.shutdownFuncsM.Unlock()
	s.shutdownFuncs = append(s.shutdownFuncs, f)
}

// recoverFilter turns a panic in the served Service into a 500, recording it as the server's error.
func (s *Server) recoverFilter(req Request, svc Service) (rsp Response) {
	defer func() {
		if v := recover(); v != nil {
			err, ok := v.(error)
			if !ok {
				err = fmt.Errorf("%v", v)
			}
			slog.Error(req, "Panic serving %v: %v", req, err)
			s.recordError(terrors.Wrap(err, nil))
			rsp = req.ResponseWithCode(nil, http.StatusInternalServerError)
			rsp.Header.Set("Content-Type", "text/plain; charset=utf-8")
			rsp.Write([]byte(http.StatusText(http.StatusInternalServerError)))
		}
	}()
	return svc(req)
}

// Serve starts a HTTP server, binding the passed Service to the passed listener and applying the passed ServerOptions.
func Serve(svc Service, l net.Listener, opts ...ServerOption) (*Server, error) {
	s := &Server{
		l:            l,
		serving:      make(chan struct{}),
		shuttingDown: make(chan struct{})}
	s.srv = &http.Server{
		Handler:        HttpHandler(svc.Filter(s.recoverFilter)),
		MaxHeaderBytes: http.DefaultMaxHeaderBytes,
	}

	// Apply any given ServerOptions
	for _, opt := range opts {
		opt(s)
	}
	if s.srv.TLSConfig != nil {
		s.l = tls.NewListener(l, s.srv.TLSConfig)
		s.tls = true
	}

	go func() {
		err := s.srv.Serve(s.l)
		close(s.serving)
		if err != nil && err != http.ErrServerClosed {
			slog.Error(nil, "HTTP server error: %v", err)
			s.recordError(err)
			// Stopping with an already-closed context means we go immediately to "forceful" mode
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			s.Stop(ctx)
		}
	}()
	return s, nil
}

// Listen binds a listener and serves the passed Service on it.
func Listen(svc Service, addr string, opts ...ServerOption) (*Server, error) {
	// Determine on which address to listen, choosing in order one of:
	// 1. The passed addr
	// 2. LISTEN_ADDR variable
	// 3. PORT variable (listening on all interfaces)
	// 4. Random, available port, on the loopback interface only
	if addr == "" {
		if _addr := os.Getenv("LISTEN_ADDR"); _addr != "" {
			addr = _addr
		} else if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil && port >= 0 {
			addr = fmt.Sprintf(":%d", port)
		} else {
			addr = "127.0.0.1:0"
		}
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	l, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, err
	}
	return Serve(svc, l, opts...)
}

// TimeoutOptions specifies various server timeouts. See http.Server for details of what these do.
// WARNING: Due to a Go bug, connections using h2c do not respect these timeouts.
// See https://github.com/golang/go/issues/52868
type TimeoutOptions struct {
	Read       time.Duration
	ReadHeader time.Duration
	Write      time.Duration
	Idle       time.Duration
}

// WithTimeout sets the server timeouts.
func WithTimeout(opts TimeoutOptions) ServerOption {
	return func(s *Server) {
		s.srv.ReadTimeout = opts.Read
		s.srv.ReadHeaderTimeout = opts.ReadHeader
		s.srv.WriteTimeout = opts.Write
		s.srv.IdleTimeout = opts.Idle
	}
}

// WithTLSConfig serves over TLS with the given configuration.
func WithTLSConfig(cfg *tls.Config) ServerOption {
	return func(s *Server) {
		s.srv.TLSConfig = cfg
	}
}
