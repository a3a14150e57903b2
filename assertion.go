package supertyphon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/pmezard/go-difflib/difflib"
	"google.golang.org/protobuf/proto"
)

// An Assertion checks a Response, returning an error if it is not as expected.
type Assertion func(rsp *Response) error

// AssertionError is the error of a failed status, header or body expectation.
type AssertionError struct {
	Message  string
	Expected interface{}
	Actual   interface{}
	// ShowDiff is set when Diff is worth rendering: the expected and actual values are structured.
	ShowDiff bool
}

func (e *AssertionError) Error() string {
	return e.Message
}

var spewConfig = spew.ConfigState{
	Indent:                  " ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true}

// Diff renders a unified diff between the expected and actual values, or nothing if ShowDiff is false.
func (e *AssertionError) Diff() string {
	if !e.ShowDiff {
		return ""
	}
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(spewConfig.Sdump(e.Expected)),
		B:        difflib.SplitLines(spewConfig.Sdump(e.Actual)),
		FromFile: "Expected",
		ToFile:   "Actual",
		Context:  1})
	return diff
}

func assertionError(expected, actual interface{}, showDiff bool, format string, args ...interface{}) error {
	return &AssertionError{
		Message:  fmt.Sprintf(format, args...),
		Expected: expected,
		Actual:   actual,
		ShowDiff: showDiff}
}

// inspect renders a value for an error message: strings quoted, anything else as JSON where possible.
func inspect(v interface{}) string {
	switch v := v.(type) {
	case string:
		return strconv.Quote(v)
	case []byte:
		return strconv.Quote(string(v))
	case nil:
		return "null"
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}

func regexpString(re *regexp.Regexp) string {
	return "/" + re.String() + "/"
}

func assertStatus(status int) Assertion {
	return func(rsp *Response) error {
		if actual := rsp.Status(); actual != status {
			return assertionError(status, actual, false, "expected %d %q, got %d %q",
				status, http.StatusText(status), actual, http.StatusText(actual))
		}
		return nil
	}
}

func assertHeader(field string, expected interface{}) Assertion {
	return func(rsp *Response) error {
		values := rsp.Header.Values(field)
		if len(values) == 0 {
			return assertionError(expected, nil, false, "expected %q header field", field)
		}
		actual := strings.Join(values, ",")

		switch exp := expected.(type) {
		case *regexp.Regexp:
			if !exp.MatchString(actual) {
				return assertionError(regexpString(exp), actual, false, "expected %q matching %s, got %q",
					field, regexpString(exp), actual)
			}
			return nil
		}

		want := headerValueString(expected)
		if actual != want {
			return assertionError(want, actual, false, "expected %q of %q, got %q", field, want, actual)
		}
		return nil
	}
}

func headerValueString(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprintf("%d", v)
}

func assertBody(expected interface{}) Assertion {
	return func(rsp *Response) error {
		switch exp := expected.(type) {
		case string:
			return assertText(exp, rsp)
		case []byte:
			return assertText(string(exp), rsp)
		case *regexp.Regexp:
			if text := rsp.Text(); !exp.MatchString(text) {
				return assertionError(regexpString(exp), text, false, "expected body %q to match %s",
					text, regexpString(exp))
			}
			return nil
		case proto.Message:
			actual := exp.ProtoReflect().New().Interface()
			if err := rsp.Decode(actual); err != nil || !proto.Equal(exp, actual) {
				return assertionError(exp, actual, true, "expected %s response body, got %s",
					inspect(exp), inspect(rsp.ParsedBody()))
			}
			return nil
		}

		want, err := normalise(expected)
		if err != nil {
			return err
		}
		got, _ := normalise(rsp.ParsedBody())
		if !reflect.DeepEqual(want, got) {
			return assertionError(want, got, true, "expected %s response body, got %s", inspect(want), inspect(got))
		}
		return nil
	}
}

func assertText(expected string, rsp *Response) error {
	if text := rsp.Text(); text != expected {
		return assertionError(expected, text, false, "expected %q response body, got %q", expected, text)
	}
	return nil
}

// normalise puts a value through JSON so that values of different Go types with the same JSON form compare equal.
func normalise(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	err = json.Unmarshal(b, &out)
	return out, err
}

// runAssertion calls a, treating a panic as the error it fails with.
func runAssertion(a Assertion, rsp *Response) (err error) {
	defer func() {
		if v := recover(); v != nil {
			if e, ok := v.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("%v", v)
			}
		}
	}()
	return a(rsp)
}
