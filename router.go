package supertyphon

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/monzo/terrors"
)

// A Router multiplexes requests to a set of Services by pattern matching on method and path, and can also extract
// parameters from paths. Extracted parameters are set on the routed request, where a Service reads them with
// req.PathValue.
//
// A Router is a Listenable target: each Test made against it serves it on a server of its own. Its OnClose hooks run
// whenever such a server has been closed.
type Router struct {
	e       *echo.Echo
	r       *echo.Router
	svcs    map[string]Service
	m       *sync.RWMutex
	onClose []func(serverErr, closeErr error)
}

// NewRouter vends a new Router.
func NewRouter() *Router {
	e := echo.New()
	return &Router{
		e:    e,
		r:    echo.NewRouter(e),
		svcs: make(map[string]Service, 10),
		m:    new(sync.RWMutex)}
}

// Register associates a Service with a method and path.
//
// Method is a single HTTP method name, or * which is expanded to every method in Methods.
// Pattern syntax is as described in echo's documentation: https://echo.labstack.com/guide/routing
func (r *Router) Register(method, pattern string, svc Service) {
	echoHandler := func(c echo.Context) error { return nil }

	r.m.Lock()
	defer r.m.Unlock()

	methods := []string{method}
	if method == "*" || method == "" {
		methods = Methods
	}
	for _, m := range methods {
		r.r.Add(m, pattern, echoHandler)
		r.svcs[m+pattern] = svc
	}
}

// lookup is the internal version of Lookup, but it extracts path parameters into the passed map (and skips it if the
// map is nil)
func (r *Router) lookup(method, path string, params map[string]string) (Service, string, bool) {
	// A fresh context is sized for the parameters of every route registered so far
	c := r.e.NewContext(nil, nil)

	r.m.RLock()
	r.r.Find(method, path, c)
	pattern := c.Path()
	if pattern == "" {
		r.m.RUnlock()
		return nil, "", false
	}
	svc := r.svcs[method+pattern]
	r.m.RUnlock()

	if svc == nil {
		return nil, "", false
	}

	if params != nil {
		for _, name := range c.ParamNames() {
			params[name] = c.Param(name)
		}
	}
	return svc, pattern, true
}

// Lookup returns the Service, pattern, and extracted path parameters for the HTTP method and path.
func (r *Router) Lookup(method, path string) (Service, string, map[string]string, bool) {
	params := map[string]string{}
	svc, pattern, ok := r.lookup(method, path, params)
	return svc, pattern, params, ok
}

// Pattern returns the registered pattern which matches the given request.
func (r *Router) Pattern(req Request) string {
	_, pattern, _ := r.lookup(req.Method, req.URL.Path, nil)
	return pattern
}

// Params returns extracted path parameters, assuming the request has been routed and has captured parameters.
func (r *Router) Params(req Request) map[string]string {
	_, _, params, _ := r.Lookup(req.Method, req.URL.Path)
	return params
}

// Serve returns a Service which will route inbound requests to the enclosed routes.
func (r *Router) Serve() Service {
	return func(req Request) Response {
		params := map[string]string{}
		svc, _, ok := r.lookup(req.Method, req.URL.Path, params)
		if !ok {
			txt := fmt.Sprintf("No handler for %s %s", req.Method, req.URL.Path)
			rsp := NewResponse(req)
			rsp.Error = terrors.NotFound("no_handler", txt, nil)
			return rsp
		}
		for name, v := range params {
			req.SetPathValue(name, v)
		}
		return svc(req)
	}
}

// Listen serves the router on addr. This makes a Router a Listenable.
func (r *Router) Listen(addr string) (*Server, error) {
	return Listen(r.Serve().Filter(ErrorFilter), addr)
}

// OnClose registers fn to be called each time a server a Test made for the router has been closed.
func (r *Router) OnClose(fn func(serverErr, closeErr error)) {
	r.m.Lock()
	defer r.m.Unlock()
	r.onClose = append(r.onClose, fn)
}

// Closed runs the OnClose hooks. It implements CloseObserver.
func (r *Router) Closed(serverErr, closeErr error) {
	r.m.RLock()
	hooks := make([]func(serverErr, closeErr error), len(r.onClose))
	copy(hooks, r.onClose)
	r.m.RUnlock()
	for _, fn := range hooks {
		fn(serverErr, closeErr)
	}
}

// Sugar

// GET is shorthand for Register("GET", pattern, svc).
func (r *Router) GET(pattern string, svc Service) { r.Register(http.MethodGet, pattern, svc) }

// CONNECT is shorthand for Register("CONNECT", pattern, svc).
func (r *Router) CONNECT(pattern string, svc Service) { r.Register(http.MethodConnect, pattern, svc) }

// DELETE is shorthand for Register("DELETE", pattern, svc).
func (r *Router) DELETE(pattern string, svc Service) { r.Register(http.MethodDelete, pattern, svc) }

// HEAD is shorthand for Register("HEAD", pattern, svc).
func (r *Router) HEAD(pattern string, svc Service) { r.Register(http.MethodHead, pattern, svc) }

// OPTIONS is shorthand for Register("OPTIONS", pattern, svc).
func (r *Router) OPTIONS(pattern string, svc Service) { r.Register(http.MethodOptions, pattern, svc) }

// PATCH is shorthand for Register("PATCH", pattern, svc).
func (r *Router) PATCH(pattern string, svc Service) { r.Register(http.MethodPatch, pattern, svc) }

// POST is shorthand for Register("POST", pattern, svc).
func (r *Router) POST(pattern string, svc Service) { r.Register(http.MethodPost, pattern, svc) }

// PUT is shorthand for Register("PUT", pattern, svc).
func (r *Router) PUT(pattern string, svc Service) { r.Register(http.MethodPut, pattern, svc) }

// TRACE is shorthand for Register("TRACE", pattern, svc).
func (r *Router) TRACE(pattern string, svc Service) { r.Register(http.MethodTrace, pattern, svc) }
