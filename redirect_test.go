package supertyphon

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHop(t *testing.T, method, rawURL string) *hop {
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &hop{
		method: method,
		url:    u,
		header: http.Header{
			"Content-Type":  {"application/json"},
			"Authorization": {"Bearer abc"},
			"Cookie":        {"a=b"},
			"Host":          {"example.com"},
			"X-Foo":         {"bar"}},
		body: []byte(`{"a":1}`)}
}

func redirectResponse(status int, location string) *Response {
	rsp := testResponse(status, "", "")
	if location != "" {
		rsp.Header.Set("Location", location)
	}
	return rsp
}

func TestRedirectMethodRewriting(t *testing.T) {
	t.Parallel()
	cases := []struct {
		status         int
		method, expect string
		keepsBody      bool
	}{
		{http.StatusMovedPermanently, "POST", "GET", false},
		{http.StatusFound, "POST", "GET", false},
		{http.StatusFound, "HEAD", "HEAD", false},
		{http.StatusSeeOther, "PUT", "GET", false},
		{http.StatusSeeOther, "HEAD", "GET", false},
		{http.StatusUseProxy, "POST", "POST", true},
		{http.StatusTemporaryRedirect, "PUT", "PUT", true},
		{http.StatusPermanentRedirect, "POST", "POST", true},
	}
	for _, c := range cases {
		c := c
		t.Run(http.StatusText(c.status)+" "+c.method, func(t *testing.T) {
			s := &redirectState{budget: 1}
			next, err := s.next(testHop(t, c.method, "http://127.0.0.1:8000/a"), redirectResponse(c.status, "/b"))
			require.NoError(t, err)
			require.NotNil(t, next)
			assert.Equal(t, c.expect, next.method)
			assert.Equal(t, "http://127.0.0.1:8000/b", next.url.String())
			assert.Empty(t, next.header.Get("Host"))
			assert.Equal(t, "bar", next.header.Get("X-Foo"))
			if c.keepsBody {
				assert.Equal(t, []byte(`{"a":1}`), next.body)
				assert.Equal(t, "application/json", next.header.Get("Content-Type"))
			} else {
				assert.Nil(t, next.body)
				assert.Empty(t, next.header.Get("Content-Type"))
			}
			// Same host: credentials are kept
			assert.Equal(t, "Bearer abc", next.header.Get("Authorization"))
			assert.Equal(t, []string{"http://127.0.0.1:8000/b"}, s.followed)
		})
	}
}

func TestRedirectCrossOrigin(t *testing.T) {
	t.Parallel()
	s := &redirectState{budget: -1}
	h := testHop(t, "GET", "http://127.0.0.1:8000/a?x=1")
	next, err := s.next(h, redirectResponse(http.StatusFound, "http://localhost:8000/b"))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Empty(t, next.header.Get("Authorization"))
	assert.Empty(t, next.header.Get("Cookie"))
	assert.Equal(t, "bar", next.header.Get("X-Foo"))
	assert.Equal(t, "http://localhost:8000/b", next.url.String())

	// The hop which was redirected is untouched
	assert.Equal(t, "Bearer abc", h.header.Get("Authorization"))
	assert.Equal(t, "example.com", h.header.Get("Host"))
}

func TestRedirectBudget(t *testing.T) {
	t.Parallel()
	h := testHop(t, "GET", "http://127.0.0.1:8000/a")
	rsp := redirectResponse(http.StatusFound, "/a")

	// None are followed by default
	s := &redirectState{}
	next, err := s.next(h, rsp)
	assert.NoError(t, err)
	assert.Nil(t, next)

	s = &redirectState{budget: 2}
	for i := 0; i < 2; i++ {
		next, err = s.next(h, rsp)
		require.NoError(t, err)
		require.NotNil(t, next)
	}
	next, err = s.next(h, rsp)
	assert.NoError(t, err)
	assert.Nil(t, next)
	assert.Len(t, s.followed, 2)

	s = &redirectState{budget: -1}
	for i := 0; i < 100; i++ {
		next, err = s.next(h, rsp)
		require.NoError(t, err)
		require.NotNil(t, next)
	}
}

func TestRedirectWithoutLocation(t *testing.T) {
	t.Parallel()
	h := testHop(t, "GET", "http://127.0.0.1:8000/a")
	for _, budget := range []int{0, 1, -1} {
		s := &redirectState{budget: budget}
		next, err := s.next(h, redirectResponse(http.StatusFound, ""))
		assert.Equal(t, ErrNoLocation, err)
		assert.Equal(t, "No location header for redirect", err.Error())
		assert.Nil(t, next)
	}
}

func TestRedirectNotARedirect(t *testing.T) {
	t.Parallel()
	s := &redirectState{budget: -1}
	h := testHop(t, "GET", "http://127.0.0.1:8000/a")
	for _, status := range []int{http.StatusOK, http.StatusNotModified, http.StatusNotFound} {
		next, err := s.next(h, redirectResponse(status, "/b"))
		assert.NoError(t, err)
		assert.Nil(t, next)
	}
	next, err := s.next(h, nil)
	assert.NoError(t, err)
	assert.Nil(t, next)
	assert.True(t, redirectResponse(http.StatusTemporaryRedirect, "/b").Redirect())
	assert.False(t, redirectResponse(http.StatusNotModified, "/b").Redirect())
}

func TestRedirectInvalidLocation(t *testing.T) {
	t.Parallel()
	s := &redirectState{budget: 1}
	_, err := s.next(testHop(t, "GET", "http://127.0.0.1:8000/a"), redirectResponse(http.StatusFound, "http://[::1"))
	assert.Error(t, err)
}
