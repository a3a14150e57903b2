package supertyphon

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/PaesslerAG/gval"
	"github.com/tidwall/gjson"
)

var exprLanguage = gval.Full()

// Expr returns an Assertion which evaluates a boolean expression against the response. The expression can refer to:
//
//	status  the status code
//	header  the header fields, keyed by lowercase name (multiple values are joined by ",")
//	text    the raw body
//	body    the parsed body (see Response.ParsedBody)
//
// For example: `status == 201 && header["content-type"] =~ "json" && body.id > 0`
//
// An expression that doesn't parse fails every response it is applied to.
func Expr(expr string) Assertion {
	eval, parseErr := exprLanguage.NewEvaluable(expr)
	return func(rsp *Response) error {
		if parseErr != nil {
			return fmt.Errorf("invalid expression %q: %v", expr, parseErr)
		}
		ok, err := eval.EvalBool(context.Background(), exprParams(rsp))
		if err != nil {
			return fmt.Errorf("evaluating %q: %v", expr, err)
		}
		if !ok {
			return assertionError(expr, rsp.Status(), false, "expected %s to hold", expr)
		}
		return nil
	}
}

func exprParams(rsp *Response) map[string]interface{} {
	header := map[string]interface{}{}
	if rsp.Response != nil {
		for k, vs := range rsp.Header {
			header[strings.ToLower(k)] = strings.Join(vs, ",")
		}
	}
	body, _ := normalise(rsp.ParsedBody())
	return map[string]interface{}{
		"status": float64(rsp.Status()),
		"header": header,
		"text":   rsp.Text(),
		"body":   body}
}

// JSONPath returns an Assertion which looks up path (in gjson syntax, eg. "items.0.name") in the raw response body and
// compares it with expected. A nil expected asserts only that the path exists.
func JSONPath(path string, expected interface{}) Assertion {
	return func(rsp *Response) error {
		b, err := rsp.BodyBytes(false)
		if err != nil {
			return err
		}
		result := gjson.GetBytes(b, path)
		if !result.Exists() {
			return assertionError(expected, nil, false, "expected %q in response body", path)
		}
		if expected == nil {
			return nil
		}
		want, err := normalise(expected)
		if err != nil {
			return err
		}
		got := result.Value()
		if !reflect.DeepEqual(want, got) {
			return assertionError(want, got, true, "expected %q of %s, got %s", path, inspect(want), inspect(got))
		}
		return nil
	}
}

// HeaderAbsent returns an Assertion which fails if the response carries the named header field.
func HeaderAbsent(field string) Assertion {
	return func(rsp *Response) error {
		if actual := rsp.Get(field); rsp.Response != nil && len(rsp.Header.Values(field)) > 0 {
			return assertionError(nil, actual, false, "unexpected %q header field, got %q", field, actual)
		}
		return nil
	}
}
