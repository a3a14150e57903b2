package supertyphon

import (
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingFilter starts a client span around every request and injects its context into the request headers. A nil
// tracer traces nothing.
func TracingFilter(tracer trace.Tracer) Filter {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("no-op tracer")
	}
	return func(req Request, svc Service) Response {
		ctx, span := tracer.Start(req.Context, "supertyphon.request", trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()
		span.SetAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL.String()))
		if id := req.Header.Get(testIDHeader); id != "" {
			span.SetAttributes(attribute.String("supertyphon.test", id))
		}

		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
		req.Context = ctx
		rsp := svc(req)

		if rsp.Response != nil {
			span.SetAttributes(attribute.Int("http.response.status_code", rsp.StatusCode))
		}
		if rsp.Error != nil {
			span.RecordError(rsp.Error)
			span.SetStatus(codes.Error, rsp.Error.Error())
		} else if rsp.Response != nil && rsp.StatusCode >= 500 {
			span.SetStatus(codes.Error, strconv.Itoa(rsp.StatusCode))
		}
		return rsp
	}
}
