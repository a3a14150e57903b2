package supertyphon

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/monzo/terrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routerTestCase struct {
	// inputs

	method string
	path   string

	// expected outputs

	status  int
	pattern string
	params  map[string]string
}

func routerTestHarness() (*Router, []routerTestCase) {
	router := NewRouter()
	svc := func(req Request) Response {
		rsp := NewResponse(req)
		for _, name := range []string{"param", "param2", "*"} {
			if v := req.PathValue(name); v != "" {
				rsp.Header.Set("X-"+name, v)
			}
		}
		return rsp
	}
	router.GET("/foo", svc)
	router.PUT("/foo/:param/:param2", svc)
	router.GET("/foo/:param/:param2", svc)
	router.GET("/foo/:param/baz", svc) // Should take precedence over the above
	router.GET("/residual/*", svc)
	router.Register("*", "/poly", svc)

	cases := []routerTestCase{
		{
			// Unknown path: 404
			method: http.MethodGet,
			path:   "/",
			status: http.StatusNotFound,
		},
		{
			method:  http.MethodGet,
			path:    "/foo",
			status:  http.StatusOK,
			pattern: "/foo",
			params:  map[string]string{},
		},
		{
			method:  http.MethodGet,
			path:    "/foo/bar/baz",
			status:  http.StatusOK,
			pattern: "/foo/:param/baz",
			params:  map[string]string{"param": "bar"},
		},
		{
			method:  http.MethodPut,
			path:    "/foo/bar/baz",
			status:  http.StatusOK,
			pattern: "/foo/:param/:param2",
			params:  map[string]string{"param": "bar", "param2": "baz"},
		},
		{
			// Too many segments
			method: http.MethodGet,
			path:   "/foo/bar/bar/baz",
			status: http.StatusNotFound,
		},
		{
			method:  http.MethodGet,
			path:    "/residual/a/b/c",
			status:  http.StatusOK,
			pattern: "/residual/*",
			params:  map[string]string{"*": "a/b/c"},
		},
		{
			// Unregistered method
			method: http.MethodDelete,
			path:   "/foo",
			status: http.StatusNotFound,
		},
		{
			method:  http.MethodPatch,
			path:    "/poly",
			status:  http.StatusOK,
			pattern: "/poly",
			params:  map[string]string{},
		},
	}
	return router, cases
}

func TestRouter(t *testing.T) {
	t.Parallel()
	router, cases := routerTestHarness()
	svc := router.Serve().Filter(ErrorFilter)
	for _, c := range cases {
		t.Run(c.method+" "+c.path, func(t *testing.T) {
			req := NewRequest(nil, c.method, c.path, nil)
			rsp := req.SendVia(svc).Response()
			require.Equal(t, c.status, rsp.StatusCode)
			if c.status != http.StatusOK {
				return
			}
			assert.Equal(t, c.pattern, router.Pattern(req))
			assert.Equal(t, c.params, router.Params(req))
			for name, v := range c.params {
				assert.Equal(t, v, rsp.Header.Get("X-"+name))
			}
		})
	}
}

func TestRouterLookup(t *testing.T) {
	t.Parallel()
	router, cases := routerTestHarness()
	for _, c := range cases {
		svc, pattern, params, ok := router.Lookup(c.method, c.path)
		if c.status == http.StatusNotFound {
			assert.False(t, ok, "%s %s", c.method, c.path)
			assert.Nil(t, svc)
			continue
		}
		assert.True(t, ok, "%s %s", c.method, c.path)
		assert.NotNil(t, svc)
		assert.Equal(t, c.pattern, pattern)
		assert.Equal(t, c.params, params)
	}
}

func TestRouterNotFound(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	rsp := router.Serve()(NewRequest(context.Background(), "GET", "/nope", nil))
	require.Error(t, rsp.Error)
	assert.True(t, terrors.Is(rsp.Error, terrors.ErrNotFound))
	assert.Contains(t, rsp.Error.Error(), "No handler for GET /nope")
}

func TestRouterClosed(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	var calls []error
	router.OnClose(func(serverErr, closeErr error) {
		calls = append(calls, serverErr, closeErr)
	})
	router.OnClose(func(serverErr, closeErr error) {
		calls = append(calls, nil)
	})

	closeErr := errors.New("close failed")
	router.Closed(nil, closeErr)
	assert.Equal(t, []error{nil, closeErr, nil}, calls)

	var observer CloseObserver = router
	assert.NotNil(t, observer)
}

func TestRouterListen(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	router.GET("/things/:id", func(req Request) Response {
		return req.Response(map[string]string{"id": req.PathValue("id")})
	})
	srv, err := router.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Close()

	rsp := NewRequest(nil, "GET", srv.URL()+"/things/7", nil).
		SendVia(HttpService(newTransport(nil, false))).Response()
	require.NoError(t, rsp.Error)
	assert.Equal(t, map[string]interface{}{"id": "7"}, rsp.ParsedBody())

	rsp = NewRequest(nil, "GET", srv.URL()+"/other", nil).
		SendVia(HttpService(newTransport(nil, false)).Filter(StatusErrorFilter)).Response()
	assert.Equal(t, http.StatusNotFound, rsp.StatusCode)
	assert.True(t, terrors.Is(rsp.Error, terrors.ErrNotFound))
}
