package supertyphon

// A Service is a function that takes a request and produces a response. Services are used symmetrically: a Test
// sends its requests through one, and a handler target is served by one.
type Service func(req Request) Response

// Filter vends a new service wrapped in the passed filter.
func (svc Service) Filter(f Filter) Service {
	return func(req Request) Response {
		return f(req, svc)
	}
}

// Filters wraps the service in each of the passed filters, outermost last.
func (svc Service) Filters(fs ...Filter) Service {
	for _, f := range fs {
		svc = svc.Filter(f)
	}
	return svc
}
