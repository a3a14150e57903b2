package supertyphon

import (
	"crypto/tls"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// An Option configures an Agent, and so every Test made from it.
type Option func(*Agent)

// WithHost sets the host requests are made through, and which servers created for a Test bind to. The default is
// 127.0.0.1.
func WithHost(host string) Option {
	return func(a *Agent) {
		a.host = host
	}
}

// WithSecure makes requests over https, trusting servers as cfg says (nil for the system defaults). Servers created
// for Listenable targets stay plain HTTP.
func WithSecure(cfg *tls.Config) Option {
	return func(a *Agent) {
		a.secure = true
		a.clientTLS = cfg
	}
}

// WithTLS serves handler targets over TLS, using a self-signed certificate for the agent's host which the agent
// trusts.
func WithTLS() Option {
	return func(a *Agent) {
		a.tls = true
	}
}

// WithH2C speaks HTTP/2 over cleartext, both to and from servers created for handler targets.
func WithH2C() Option {
	return func(a *Agent) {
		a.h2c = true
	}
}

// WithClient sends requests through svc instead of a transport created for each Test.
func WithClient(svc Service) Option {
	return func(a *Agent) {
		a.client = svc
	}
}

// WithFilter adds a filter around the client of every Test, closest to the client. Filters are applied in the order
// given.
func WithFilter(f Filter) Option {
	return func(a *Agent) {
		a.filters = append(a.filters, f)
	}
}

// WithThrottle limits the requests of all the Tests of an agent to rps per second, with bursts of up to burst.
func WithThrottle(rps float64, burst int) Option {
	return func(a *Agent) {
		a.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTracer traces every request with tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Agent) {
		a.tracer = tracer
	}
}

// WithDefaultTimeouts sets the timeouts Tests start with.
func WithDefaultTimeouts(t Timeouts) Option {
	return func(a *Agent) {
		a.timeouts = t
	}
}

// WithServerOptions customises the servers created for handler targets.
func WithServerOptions(opts ...ServerOption) Option {
	return func(a *Agent) {
		a.serverOpts = append(a.serverOpts, opts...)
	}
}
