package supertyphon

import (
	"crypto/tls"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Methods are the HTTP methods an Agent is commonly asked to make requests with; Request accepts any other too.
var Methods = []string{
	"CHECKOUT", "CONNECT", "COPY", "DELETE", "GET", "HEAD", "LOCK", "M-SEARCH", "MERGE", "MKACTIVITY", "MKCOL", "MOVE",
	"NOTIFY", "OPTIONS", "PATCH", "POST", "PROPFIND", "PROPPATCH", "PURGE", "PUT", "REPORT", "SEARCH", "SUBSCRIBE",
	"TRACE", "UNLOCK", "UNSUBSCRIBE"}

// An Agent makes Tests against one target: a base URL, a Listenable, a server that is already listening, or a handler
// (a Service, an http.Handler or either's function form).
//
// Every Test made against a Listenable or a handler gets a server of its own, bound to an ephemeral port and closed
// once the Test is over. A server target is closed after the first Test made against it. URL targets, including
// *httptest.Server, are never closed.
type Agent struct {
	target     *target
	host       string
	secure     bool
	clientTLS  *tls.Config
	tls        bool
	h2c        bool
	client     Service
	filters    []Filter
	limiter    *rate.Limiter
	tracer     trace.Tracer
	timeouts   Timeouts
	serverOpts []ServerOption
}

// New makes an Agent for app, failing with a configuration error if app is not something a Test can be made against.
func New(app interface{}, opts ...Option) (*Agent, error) {
	t, err := classify(app)
	if err != nil {
		return nil, err
	}
	a := &Agent{
		target: t}
	for _, opt := range opts {
		opt(a)
	}

	if a.tls {
		host := a.host
		if host == "" {
			host = defaultHost
		}
		cert, pool, err := selfSigned(host, "localhost", "127.0.0.1", "::1")
		if err != nil {
			return nil, err
		}
		a.secure = true
		a.clientTLS = &tls.Config{
			RootCAs: pool}
		// Serve does not set up HTTP/2 over TLS
		a.serverOpts = append(a.serverOpts, WithTLSConfig(&tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"http/1.1"}}))
	} else if a.h2c {
		a.serverOpts = append(a.serverOpts, withH2CServer())
	}
	return a, nil
}

// Request starts a Test making a request with method to path, relative to the target.
//
// Handler and Listenable targets have a server bound for the Test here, and server targets are watched for readiness
// in the background. Both are released only once the Test is run with End, Await or Check: a Test which is never run
// leaks its server and that goroutine.
func (a *Agent) Request(method, path string) *Test {
	return newTest(a, strings.ToUpper(method), path)
}

// Sugar for Request; the same applies to the Tests these return.
func (a *Agent) Get(path string) *Test     { return a.Request(http.MethodGet, path) }
func (a *Agent) Head(path string) *Test    { return a.Request(http.MethodHead, path) }
func (a *Agent) Post(path string) *Test    { return a.Request(http.MethodPost, path) }
func (a *Agent) Put(path string) *Test     { return a.Request(http.MethodPut, path) }
func (a *Agent) Patch(path string) *Test   { return a.Request(http.MethodPatch, path) }
func (a *Agent) Delete(path string) *Test  { return a.Request(http.MethodDelete, path) }
func (a *Agent) Connect(path string) *Test { return a.Request(http.MethodConnect, path) }
func (a *Agent) Options(path string) *Test { return a.Request(http.MethodOptions, path) }
func (a *Agent) Trace(path string) *Test   { return a.Request(http.MethodTrace, path) }

// service builds the Service the requests of a Test go through, around rt unless the agent has a client of its own.
func (a *Agent) service(rt http.RoundTripper, timeouts Timeouts) Service {
	svc := a.client
	if svc == nil {
		svc = HttpService(rt)
	}
	filters := make([]Filter, 0, len(a.filters)+5)
	filters = append(filters, a.filters...)
	filters = append(filters, TimeoutFilter(timeouts), TracingFilter(a.tracer))
	if a.limiter != nil {
		filters = append(filters, ThrottleFilter(a.limiter))
	}
	filters = append(filters, StatusErrorFilter, ExpirationFilter)
	return svc.Filters(filters...)
}

func (a *Agent) transport() http.RoundTripper {
	if a.client != nil {
		return nil
	}
	return newTransport(a.clientTLS, a.h2c && !a.secure)
}
