package supertyphon

import (
	"fmt"
	"reflect"
	"regexp"
)

// A Callback receives the outcome of a Test: the first failing assertion or transport error (or nil), and the final
// response (nil if none was received).
type Callback func(err error, rsp *Response)

// Expect registers an expectation, run against the final response in registration order. The first to fail is the
// error of the Test; the ones after it are not run.
//
//	Expect(200)                        status
//	Expect(200, body)                  status and body
//	Expect("Content-Type", "text/plain") header: value a string, an integer or a *regexp.Regexp
//	Expect(body)                       body: a string or []byte (exact text), a *regexp.Regexp (matched against the
//	                                   text), a proto.Message, or any other value (compared to the parsed body)
//	Expect(Assertion)                  any check on the response
//
// A Callback anywhere among the arguments ends the Test with it once the expectation is registered.
func (t *Test) Expect(a interface{}, rest ...interface{}) *Test {
	var cb Callback
	for _, r := range rest {
		if c, ok := asCallback(r); ok {
			cb = c
		}
	}

	switch {
	case isAssertion(a):
		fn, _ := asAssertion(a)
		t.assertions = append(t.assertions, fn)
	case isInteger(a):
		t.assertions = append(t.assertions, assertStatus(int(reflect.ValueOf(a).Convert(reflect.TypeOf(0)).Int())))
		if len(rest) > 0 && !isCallback(rest[0]) {
			t.assertions = append(t.assertions, assertBody(rest[0]))
		}
	case len(rest) > 0 && isHeaderValue(rest[0]):
		t.assertions = append(t.assertions, assertHeader(fmt.Sprint(a), rest[0]))
	default:
		t.assertions = append(t.assertions, assertBody(a))
	}

	if cb != nil {
		t.End(cb)
	}
	return t
}

func asAssertion(v interface{}) (Assertion, bool) {
	switch fn := v.(type) {
	case Assertion:
		return fn, fn != nil
	case func(*Response) error:
		return Assertion(fn), fn != nil
	}
	return nil, false
}

func isAssertion(v interface{}) bool {
	_, ok := asAssertion(v)
	return ok
}

func asCallback(v interface{}) (Callback, bool) {
	switch fn := v.(type) {
	case Callback:
		return fn, fn != nil
	case func(error, *Response):
		return Callback(fn), fn != nil
	}
	return nil, false
}

func isCallback(v interface{}) bool {
	_, ok := asCallback(v)
	return ok
}

func isInteger(v interface{}) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isHeaderValue(v interface{}) bool {
	switch v.(type) {
	case string, *regexp.Regexp, float32, float64:
		return true
	}
	return isInteger(v)
}
