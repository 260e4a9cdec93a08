package observability

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMiddleware traces the REST surface. Each request gets a server span
// named after the matched route pattern, e.g. "GET /hello/{name}", so greetings
// for different names share one span name. The greeting name and anything the
// handler adds through TagRequest are recorded as pulsar attributes.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := Tracer().Start(ctx, "HTTP "+r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPMethod(r.Method),
				semconv.HTTPTarget(r.URL.RequestURI()),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		// The mux records the matched pattern and path values on this request.
		req := r.WithContext(ctx)
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, req)

		if req.Pattern != "" {
			span.SetName(req.Pattern)
			span.SetAttributes(semconv.HTTPRoute(req.Pattern))
		}
		span.SetAttributes(requestAttrs(req)...)
		span.SetAttributes(
			semconv.HTTPStatusCode(rw.statusCode),
			attribute.Int64("http.response_size", rw.bytesWritten),
		)
		if rw.statusCode >= 400 {
			span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
		}
	})
}

// requestAttrs derives pulsar attributes from the matched route.
func requestAttrs(r *http.Request) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if name := r.PathValue("name"); name != "" {
		attrs = append(attrs, AttrGreetingName.String(name))
	} else if name := r.URL.Query().Get("name"); name != "" {
		attrs = append(attrs, AttrGreetingName.String(name))
	}
	if peer := r.URL.Query().Get("peer"); peer != "" {
		attrs = append(attrs, AttrPeer.String(peer))
	}
	return attrs
}

// TagRequest adds attributes to the span of the REST request in ctx. Handlers
// use it to record the action they dispatched and the error kind they
// answered with.
func TagRequest(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
