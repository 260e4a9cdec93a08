package observability

import (
	"context"
	"net/http"

	"github.com/oriys/pulsar/internal/wire"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	traceParentKey = "traceparent"
	traceStateKey  = "tracestate"
)

// StampEnvelope copies the W3C trace context of ctx into the trace fields of
// an outbound request envelope. Nothing is written while tracing is disabled.
func StampEnvelope(ctx context.Context, req *wire.Request) {
	if !Enabled() {
		return
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	req.TraceParent = carrier.Get(traceParentKey)
	req.TraceState = carrier.Get(traceStateKey)
}

// EnvelopeContext returns ctx continued from the caller span named in an
// inbound request envelope. Envelopes without a traceparent leave ctx as is.
func EnvelopeContext(ctx context.Context, req *wire.Request) context.Context {
	if req.TraceParent == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{traceParentKey: req.TraceParent}
	if req.TraceState != "" {
		carrier[traceStateKey] = req.TraceState
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// InjectHTTPHeaders writes the trace context of ctx into h. The HTTP peer
// transport sends it next to the envelope so proxies in between can join the
// trace.
func InjectHTTPHeaders(ctx context.Context, h http.Header) {
	if !Enabled() {
		return
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}

// TraceID returns the trace ID of the span in ctx, or "" when there is none.
// Call log entries use it to point at the trace.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// SpanID returns the span ID of the span in ctx, or "".
func SpanID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasSpanID() {
		return ""
	}
	return sc.SpanID().String()
}
