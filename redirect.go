package supertyphon

import (
	"net/http"
	"net/url"

	mapset "github.com/deckarep/golang-set"
	"github.com/monzo/terrors"
)

var (
	redirectStatuses = mapset.NewSet(
		http.StatusMovedPermanently,  // 301
		http.StatusFound,             // 302
		http.StatusSeeOther,          // 303
		http.StatusUseProxy,          // 305
		http.StatusTemporaryRedirect, // 307
		http.StatusPermanentRedirect) // 308
	// Dropped along with the body when a redirect turns the request into a GET
	contentHeaders = mapset.NewSet("Content-Type", "Content-Length", "Transfer-Encoding")
	// Never sent to another host
	credentialHeaders = mapset.NewSet("Authorization", "Cookie")
)

// A hop is one request of a Test: the first, or one made by following a redirect.
type hop struct {
	method string
	url    *url.URL
	header http.Header
	body   []byte
}

// redirectState is the redirect budget of a Test and the locations it has followed so far.
type redirectState struct {
	budget   int // 0 never follows, < 0 follows without limit
	hops     int
	followed []string
}

func (s *redirectState) exhausted() bool {
	return s.budget >= 0 && s.hops >= s.budget
}

// next decides whether rsp, the response to h, is followed. It returns the hop to make next, or nil if rsp is
// terminal. A redirect status without a Location header fails with ErrNoLocation whatever the remaining budget.
func (s *redirectState) next(h *hop, rsp *Response) (*hop, error) {
	if rsp == nil || rsp.Response == nil || !redirectStatuses.Contains(rsp.StatusCode) {
		return nil, nil
	}
	location := rsp.Header.Get("Location")
	if location == "" {
		return nil, ErrNoLocation
	}
	if s.exhausted() {
		return nil, nil
	}

	ref, err := url.Parse(location)
	if err != nil {
		return nil, terrors.BadResponse("invalid_location", "Invalid location header for redirect", map[string]string{
			"location": location})
	}
	next := &hop{
		method: h.method,
		url:    h.url.ResolveReference(ref),
		header: h.header.Clone(),
		body:   h.body}
	if next.header == nil {
		next.header = http.Header{}
	}
	next.header.Del("Host")

	switch rsp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound:
		if next.method != http.MethodHead {
			next.method = http.MethodGet
		}
		next.dropBody()
	case http.StatusSeeOther:
		next.method = http.MethodGet
		next.dropBody()
	}

	if next.url.Host != h.url.Host {
		for _, k := range credentialHeaders.ToSlice() {
			next.header.Del(k.(string))
		}
	}

	s.hops++
	s.followed = append(s.followed, next.url.String())
	return next, nil
}

func (h *hop) dropBody() {
	h.body = nil
	for _, k := range contentHeaders.ToSlice() {
		h.header.Del(k.(string))
	}
}
