package supertyphon

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/monzo/slog"
	"github.com/monzo/terrors"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http/httpguts"
)

// testIDHeader carries the id of the Test a request was made by.
const testIDHeader = "X-Supertyphon-Test"

// drainTimeout bounds the wait for work a Test abandoned (such as a request which timed out) before its assertions run.
const drainTimeout = 5 * time.Second

// A Test is one request against an Agent's target together with the expectations on its response.
//
// A Test is configured by chaining its methods and started by End, Await or Check (or Expect given a Callback). Its
// configuration must not be changed once it has started, and every Test must be started: the server created for it is
// only closed once it completes.
type Test struct {
	id       string
	agent    *Agent
	method   string
	path     string
	ctx      context.Context
	endpoint *endpoint
	tracker  *tracker
	rt       http.RoundTripper
	cancel   context.CancelFunc // ends the lifetime of the endpoint

	header     http.Header
	rawQuery   []string
	payload    payload
	buildErr   error
	timeouts   Timeouts
	retries    int
	retryFunc  RetryFunc
	redirects  int
	onRedirect []func(*Response)
	assertions []Assertion

	endOnce sync.Once
	done    chan struct{}
	rsp     *Response
	err     error
}

func newTest(a *Agent, method, path string) *Test {
	lifetime, cancel := context.WithCancel(context.Background())
	t := &Test{
		id:        uuid.NewString(),
		agent:     a,
		method:    method,
		path:      path,
		ctx:       context.Background(),
		tracker:   newTracker(),
		rt:        a.transport(),
		cancel:    cancel,
		header:    http.Header{},
		timeouts:  a.timeouts,
		retryFunc: DefaultRetry,
		done:      make(chan struct{})}
	t.endpoint = resolveEndpoint(lifetime, a.target, path, endpointConfig{
		host:       a.host,
		secure:     a.secure,
		serverOpts: a.serverOpts})
	return t
}

// ID identifies the Test in logs and in the X-Supertyphon-Test header of its requests.
func (t *Test) ID() string {
	return t.id
}

// Set sets a request header.
func (t *Test) Set(field, value string) *Test {
	if !httpguts.ValidHeaderFieldName(field) || !httpguts.ValidHeaderFieldValue(value) {
		t.fail(terrors.BadRequest("invalid_header", fmt.Sprintf("Invalid header %q", field), nil))
		return t
	}
	t.header.Set(field, value)
	return t
}

// Unset removes a request header.
func (t *Test) Unset(field string) *Test {
	t.header.Del(field)
	return t
}

// Type sets the Content-Type header. Shorthands such as "json", "form", "text", "html" and "xml" and file extensions
// are expanded.
func (t *Test) Type(contentType string) *Test {
	return t.Set("Content-Type", contentTypeOf(contentType))
}

// Accept sets the Accept header, expanding shorthands like Type.
func (t *Test) Accept(contentType string) *Test {
	return t.Set("Accept", contentTypeOf(contentType))
}

// Auth sets basic authentication credentials.
func (t *Test) Auth(user, password string) *Test {
	return t.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+password)))
}

// Bearer sets a bearer token.
func (t *Test) Bearer(token string) *Test {
	return t.Set("Authorization", "Bearer "+token)
}

// Query adds query parameters: a raw query string, url.Values, map[string]string or map[string][]string. They are
// sent with the first request only; the URLs redirects lead to are used as they are.
func (t *Test) Query(q interface{}) *Test {
	switch q := q.(type) {
	case string:
		if q = strings.TrimPrefix(q, "?"); q != "" {
			t.rawQuery = append(t.rawQuery, q)
		}
	case url.Values:
		t.rawQuery = append(t.rawQuery, q.Encode())
	case map[string][]string:
		t.rawQuery = append(t.rawQuery, url.Values(q).Encode())
	case map[string]string:
		v := url.Values{}
		for k, s := range q {
			v.Set(k, s)
		}
		t.rawQuery = append(t.rawQuery, v.Encode())
	default:
		t.fail(terrors.BadRequest("invalid_query", fmt.Sprintf("Unsupported query type %T", q), nil))
	}
	return t
}

// Send sets the request body. Strings are form-encoded unless Type says otherwise, and are joined when sent more than
// once; []byte and io.Reader are sent as they are; protobuf messages as protobuf; anything else as JSON, with the
// fields of successive objects merged.
func (t *Test) Send(data interface{}) *Test {
	t.payload.send(data)
	return t
}

// Field adds a field to a multipart form body.
func (t *Test) Field(name, value string) *Test {
	t.payload.fields = append(t.payload.fields, [2]string{name, value})
	return t
}

// Attach adds a file to a multipart form body. content may be a []byte, a string or an io.Reader.
func (t *Test) Attach(field, filename string, content interface{}) *Test {
	var b []byte
	switch c := content.(type) {
	case []byte:
		b = c
	case string:
		b = []byte(c)
	case io.Reader:
		var err error
		if b, err = io.ReadAll(c); err != nil {
			t.fail(terrors.Wrap(err, nil))
			return t
		}
	default:
		t.fail(terrors.BadRequest("invalid_attachment", fmt.Sprintf("Unsupported attachment type %T", content), nil))
		return t
	}
	t.payload.files = append(t.payload.files, formFile{field: field, filename: filename, content: b})
	return t
}

// Timeout bounds each attempt of the request, from dialling until the body has been read.
func (t *Test) Timeout(d time.Duration) *Test {
	t.timeouts = Timeouts{Deadline: d}
	return t
}

// Timeouts bounds each attempt of the request.
func (t *Test) Timeouts(timeouts Timeouts) *Test {
	t.timeouts = timeouts
	return t
}

// Retry makes up to n more attempts of a request which fails in a way policy (by default DefaultRetry) deems worth
// retrying. The n retries are shared by all the hops of the Test.
func (t *Test) Retry(n int, policy ...RetryFunc) *Test {
	t.retries = n
	if len(policy) > 0 && policy[0] != nil {
		t.retryFunc = policy[0]
	}
	return t
}

// Redirects sets how many redirects are followed: none by default, and without limit if n is negative.
func (t *Test) Redirects(n int) *Test {
	t.redirects = n
	return t
}

// Context sets the context requests are made with. Cancelling it ends the Test.
func (t *Test) Context(ctx context.Context) *Test {
	if ctx != nil {
		t.ctx = ctx
	}
	return t
}

// OnRedirect registers fn to be called with every redirect response which is followed, before it is.
func (t *Test) OnRedirect(fn func(*Response)) *Test {
	t.onRedirect = append(t.onRedirect, fn)
	return t
}

func (t *Test) fail(err error) {
	if t.buildErr == nil {
		t.buildErr = err
	}
}

// End starts the Test, calling cb (if not nil) with its outcome. It returns immediately. Only the first call to End
// has any effect.
func (t *Test) End(cb Callback) *Test {
	if !t.start(cb) {
		slog.Warn(t.ctx, "Test %s has already been started; ignoring End", t.id)
	}
	return t
}

// Await starts the Test if needed and waits for its outcome.
func (t *Test) Await() (*Response, error) {
	t.start(nil)
	<-t.done
	return t.rsp, t.err
}

// Done returns a channel which is closed once the Test has completed.
func (t *Test) Done() <-chan struct{} {
	return t.done
}

// Check awaits the Test and fails tb if it did not succeed.
func (t *Test) Check(tb testing.TB) *Response {
	tb.Helper()
	rsp, err := t.Await()
	if ae, ok := err.(*AssertionError); ok && ae.ShowDiff {
		require.NoError(tb, err, ae.Diff())
	}
	require.NoError(tb, err)
	return rsp
}

func (t *Test) start(cb Callback) bool {
	started := false
	t.endOnce.Do(func() {
		started = true
		go t.run(cb)
	})
	return started
}

func (t *Test) run(cb Callback) {
	defer close(t.done)
	defer t.cancel()

	rsp, err := t.exchange()
	e := t.endpoint
	closeServer(t.ctx, e.closeFn, e.target.app, e.serverErr(), func() error {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if drainErr := t.tracker.drain(ctx); drainErr != nil {
			slog.Warn(t.ctx, "Test %s: %d abandoned requests still in flight: %v", t.id, t.tracker.pending(), drainErr)
		}
		if c, ok := t.rt.(interface{ CloseIdleConnections() }); ok {
			c.CloseIdleConnections()
		}
		t.rsp = rsp
		t.err = t.assert(err, rsp)
		return nil
	})

	if cb != nil {
		cb(t.err, t.rsp)
	}
}

// exchange makes the request, retrying and following redirects as configured, and returns the final response.
func (t *Test) exchange() (*Response, error) {
	if t.buildErr != nil {
		return nil, t.buildErr
	}
	ctx := withTracker(t.ctx, t.tracker)
	if err := waitAll(ctx, t.endpoint.serverReady, t.endpoint.urlReady); err != nil {
		return nil, err
	}
	h, err := t.firstHop(t.endpoint.url)
	if err != nil {
		return nil, err
	}

	svc := t.agent.service(t.rt, t.timeouts)
	redirects := &redirectState{budget: t.redirects}
	retries := t.retries
	for {
		rsp := svc(t.request(ctx, h))
		var out *Response
		if rsp.Response != nil {
			out = &rsp
		}
		if retries > 0 && ctx.Err() == nil && t.retryFunc(rsp.Error, out) {
			retries--
			slog.Debug(ctx, "Test %s: retrying %s %s (%d retries left): %v", t.id, h.method, h.url, retries, rsp)
			continue
		}
		if out == nil {
			return nil, rsp.Error
		}

		next, err := redirects.next(h, out)
		out.Redirects = append([]string(nil), redirects.followed...)
		if err != nil {
			return out, err
		}
		if next == nil {
			return out, out.Error
		}
		slog.Debug(ctx, "Test %s: following %d redirect to %s", t.id, out.StatusCode, next.url)
		for _, fn := range t.onRedirect {
			fn(out)
		}
		h = next
	}
}

func (t *Test) firstHop(base string) (*hop, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, terrors.BadRequest("invalid_url", err.Error(), map[string]string{
			"url": base})
	}
	if len(t.rawQuery) > 0 {
		q := strings.Join(t.rawQuery, "&")
		if u.RawQuery != "" {
			q = u.RawQuery + "&" + q
		}
		u.RawQuery = q
	}
	body, contentType, err := t.payload.build()
	if err != nil {
		return nil, err
	}
	header := t.header.Clone()
	if contentType != "" && header.Get("Content-Type") == "" {
		header.Set("Content-Type", contentType)
	}
	return &hop{
		method: t.method,
		url:    u,
		header: header,
		body:   body}, nil
}

// request builds the Request for one attempt of h. Metadata on ctx is sent too, unless a header overrides it.
func (t *Test) request(ctx context.Context, h *hop) Request {
	req := NewRequest(ctx, h.method, h.url.String(), nil)
	if req.err != nil {
		return req
	}
	for k, v := range h.header {
		req.Header[k] = append([]string(nil), v...)
	}
	if host := req.Header.Get("Host"); host != "" {
		req.Host = host
		req.Header.Del("Host")
	}
	req.Header.Set(testIDHeader, t.id)
	if len(h.body) > 0 {
		req.Write(h.body)
	} else {
		req.Body = http.NoBody
		req.ContentLength = 0
	}
	return req
}

// assert works out the outcome of the Test. With no response, that is the transport error. Otherwise the first failing
// assertion wins, then the transport error unless it only reports the status the response already has.
func (t *Test) assert(resErr error, rsp *Response) error {
	if rsp == nil {
		return resErr
	}
	for _, a := range t.assertions {
		if err := runAssertion(a, rsp); err != nil {
			return err
		}
	}
	if resErr != nil {
		if status, ok := ErrorStatus(resErr); ok && status == rsp.Status() {
			return nil
		}
		return resErr
	}
	return nil
}
