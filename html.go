package supertyphon

import (
	"bytes"
	"fmt"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// HTMLContains returns an Assertion over the elements of an HTML body selected by a CSS selector. count determines
// the number of matches to check for:
//
//	< 0: no match
//	 0: one or more matches
//	> 0: exactly that many matches
func HTMLContains(selector string, count int) Assertion {
	sel, compileErr := cascadia.Compile(selector)
	return func(rsp *Response) error {
		if compileErr != nil {
			return fmt.Errorf("invalid selector %q: %v", selector, compileErr)
		}
		b, err := rsp.BodyBytes(false)
		if err != nil {
			return err
		}
		doc, err := html.Parse(bytes.NewReader(b))
		if err != nil {
			return fmt.Errorf("cannot parse HTML body: %v", err)
		}

		n := len(sel.MatchAll(doc))
		switch {
		case count < 0 && n > 0:
			return assertionError(0, n, false, "expected no %s elements, found %d", selector, n)
		case count == 0 && n == 0:
			return assertionError(1, 0, false, "expected %s elements, found none", selector)
		case count > 0 && n != count:
			return assertionError(count, n, false, "expected %d %s elements, found %d", count, selector, n)
		}
		return nil
	}
}
