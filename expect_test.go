package supertyphon

import (
	"errors"
	"net/http"
	"regexp"
	"testing"

	"github.com/monzo/terrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unstartedTest is a Test against a URL nothing listens on. It must not be started.
func unstartedTest(t *testing.T) *Test {
	a, err := New("http://127.0.0.1:1")
	require.NoError(t, err)
	return a.Get("/")
}

func TestExpectDispatch(t *testing.T) {
	t.Parallel()
	rsp := testResponse(http.StatusCreated, "application/json", `{"id":1}`)
	rsp.Header.Set("Location", "/things/1")

	cases := []struct {
		name   string
		args   []interface{}
		failed string // message of the assertion error, if any
	}{
		{"status", []interface{}{201}, ""},
		{"status of another integer kind", []interface{}{int64(201)}, ""},
		{"wrong status", []interface{}{200}, `expected 200 "OK", got 201 "Created"`},
		{"status and body", []interface{}{201, map[string]int{"id": 1}}, ""},
		{"status and wrong body", []interface{}{201, `{"id":2}`}, `expected "{\"id\":2}" response body, got "{\"id\":1}"`},
		{"header", []interface{}{"Location", "/things/1"}, ""},
		{"header pattern", []interface{}{"Location", regexp.MustCompile(`^/things/\d+$`)}, ""},
		{"wrong header", []interface{}{"Location", "/"}, `expected "Location" of "/", got "/things/1"`},
		{"body text", []interface{}{`{"id":1}`}, ""},
		{"body object", []interface{}{map[string]int{"id": 1}}, ""},
		{"body pattern", []interface{}{regexp.MustCompile(`"id"`)}, ""},
		{"assertion", []interface{}{Assertion(func(*Response) error { return nil })}, ""},
		{"assertion func", []interface{}{func(*Response) error { return nil }}, ""},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			test := unstartedTest(t)
			test.Expect(c.args[0], c.args[1:]...)
			err := test.assert(nil, rsp)
			if c.failed == "" {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, c.failed, assertionMessage(t, err))
			}
		})
	}
}

func TestExpectPredicateError(t *testing.T) {
	t.Parallel()
	test := unstartedTest(t)
	test.Expect(func(*Response) error {
		return errors.New("failed")
	})
	err := test.assert(nil, testResponse(http.StatusOK, "", ""))
	assert.EqualError(t, err, "failed")
}

func TestExpectFirstFailureWins(t *testing.T) {
	t.Parallel()
	calls := 0
	counting := func(err error) Assertion {
		return func(*Response) error {
			calls++
			return err
		}
	}
	first := errors.New("first")
	test := unstartedTest(t)
	test.Expect(counting(nil)).
		Expect(counting(first)).
		Expect(counting(errors.New("second")))

	assert.Equal(t, first, test.assert(nil, testResponse(http.StatusOK, "", "")))
	assert.Equal(t, 2, calls)
}

func TestAssertPrecedence(t *testing.T) {
	t.Parallel()
	rsp := testResponse(http.StatusNotFound, "", "")
	statusErr := terrors.NotFound("", "Not Found", map[string]string{
		httpStatusParam: "404"})
	otherErr := terrors.Wrap(errors.New("connection reset"), nil)

	// No response: the transport error
	test := unstartedTest(t).Expect(404)
	assert.Equal(t, otherErr, test.assert(otherErr, nil))

	// A failing assertion beats the transport error
	test = unstartedTest(t).Expect(200)
	assert.Equal(t, `expected 200 "OK", got 404 "Not Found"`, assertionMessage(t, test.assert(statusErr, rsp)))

	// An error which only reports the status is explained by the response
	test = unstartedTest(t).Expect(404)
	assert.NoError(t, test.assert(statusErr, rsp))
	assert.NoError(t, unstartedTest(t).assert(statusErr, rsp))

	// Anything else surfaces
	assert.Equal(t, otherErr, unstartedTest(t).Expect(404).assert(otherErr, rsp))
}

func TestExpectArgumentKinds(t *testing.T) {
	t.Parallel()
	assert.True(t, isCallback(Callback(func(error, *Response) {})))
	assert.True(t, isCallback(func(error, *Response) {}))
	assert.False(t, isCallback(func(*Response) error { return nil }))
	assert.False(t, isCallback(Callback(nil)))

	assert.True(t, isInteger(uint16(1)))
	assert.False(t, isInteger(1.5))
	assert.False(t, isInteger(nil))
	assert.True(t, isHeaderValue(1.5))
	assert.False(t, isHeaderValue([]string{"a"}))
}
