package supertyphon

// Filter functions compose with Services to modify their behaviour. They might change a service's input or output, or
// elect not to call the underlying service at all.
//
// On the client side of a Test, filters carry the per-attempt concerns: timeouts, throttling, tracing and the
// conversion of error statuses into transport errors.
type Filter func(Request, Service) Response
