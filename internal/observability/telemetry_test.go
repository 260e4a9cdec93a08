package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oriys/pulsar/internal/wire"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordSpans installs a tracer that keeps ended spans in memory.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	install(tp, "pulsar-test")
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		global = disabledProvider()
	})
	return sr
}

func attrsOf(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestDisabledProviderIsUsable(t *testing.T) {
	if err := Init(context.Background(), Config{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if Enabled() {
		t.Fatal("expected tracing disabled")
	}

	ctx, span := StartSpan(context.Background(), "dispatch", AttrAction.String("helloworld/sample"))
	EndSpan(span, errors.New("boom"))

	req := &wire.Request{Action: "helloworld/sample"}
	StampEnvelope(ctx, req)
	if req.TraceParent != "" || req.TraceState != "" {
		t.Fatalf("expected unstamped envelope, got %+v", req)
	}
}

func TestInit_NoopExporter(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: true, Exporter: "noop", Peer: "grpc://10.0.0.1:7070"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		_ = Shutdown(context.Background())
		_ = Init(context.Background(), Config{})
	})
	if !Enabled() {
		t.Fatal("expected tracing enabled")
	}

	if err := Init(context.Background(), Config{Enabled: true, Exporter: "zipkin"}); err == nil {
		t.Fatal("expected unknown exporter error")
	}
}

func TestEnvelopeTraceRoundTrip(t *testing.T) {
	recordSpans(t)

	ctx, span := StartClientSpan(context.Background(), "action.proxy")
	defer span.End()

	req := &wire.Request{Action: "helloworld/sample"}
	StampEnvelope(ctx, req)
	if req.TraceParent == "" {
		t.Fatal("expected traceparent")
	}

	// Decode the envelope as the serving peer would.
	data, err := req.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	inbound, err := wire.UnmarshalRequest(data)
	if err != nil {
		t.Fatalf("UnmarshalRequest: %v", err)
	}
	remote := EnvelopeContext(context.Background(), inbound)
	_, child := StartServerSpan(remote, "action.serve")
	defer child.End()
	if got, want := child.SpanContext().TraceID().String(), TraceID(ctx); got != want {
		t.Fatalf("expected trace %s, got %s", want, got)
	}
	if SpanID(ctx) == "" {
		t.Fatal("expected span id")
	}

	h := http.Header{}
	InjectHTTPHeaders(ctx, h)
	if h.Get("traceparent") != req.TraceParent {
		t.Fatalf("expected traceparent header %q, got %q", req.TraceParent, h.Get("traceparent"))
	}
}

func TestEnvelopeContext_NoTraceParent(t *testing.T) {
	ctx := context.Background()
	if got := EnvelopeContext(ctx, &wire.Request{Action: "a/b"}); got != ctx {
		t.Fatal("expected context unchanged")
	}
	if TraceID(ctx) != "" || SpanID(ctx) != "" {
		t.Fatal("expected empty ids without a span")
	}
}

func TestHTTPMiddleware_PassesThrough(t *testing.T) {
	_ = Init(context.Background(), Config{})
	h := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}
}

func TestHTTPMiddleware_RouteAttributes(t *testing.T) {
	sr := recordSpans(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /hello/{name}", func(w http.ResponseWriter, r *http.Request) {
		TagRequest(r.Context(), AttrAction.String("helloworld/sample"))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("PUT /schedule/hello", func(w http.ResponseWriter, r *http.Request) {
		TagRequest(r.Context(), AttrErrorKind.String("transport"))
		w.WriteHeader(http.StatusBadGateway)
	})
	h := HTTPMiddleware(mux)

	for _, path := range []string{"/hello/ada?peer=grpc://p:1", "/hello/bob"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("PUT", "/schedule/hello?name=cy", nil))

	spans := sr.Ended()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}

	first := attrsOf(spans[0])
	if spans[0].Name() != "GET /hello/{name}" || spans[1].Name() != spans[0].Name() {
		t.Fatalf("expected route-named spans, got %q and %q", spans[0].Name(), spans[1].Name())
	}
	if got := first["http.route"].AsString(); got != "GET /hello/{name}" {
		t.Fatalf("expected http.route, got %q", got)
	}
	if got := first[AttrGreetingName].AsString(); got != "ada" {
		t.Fatalf("expected greeting name ada, got %q", got)
	}
	if got := first[AttrPeer].AsString(); got != "grpc://p:1" {
		t.Fatalf("expected peer attribute, got %q", got)
	}
	if got := first[AttrAction].AsString(); got != "helloworld/sample" {
		t.Fatalf("expected action attribute, got %q", got)
	}
	if got := attrsOf(spans[1])[AttrGreetingName].AsString(); got != "bob" {
		t.Fatalf("expected greeting name bob, got %q", got)
	}

	sched := attrsOf(spans[2])
	if got := sched[AttrGreetingName].AsString(); got != "cy" {
		t.Fatalf("expected greeting name from query, got %q", got)
	}
	if got := sched[AttrErrorKind].AsString(); got != "transport" {
		t.Fatalf("expected error kind, got %q", got)
	}
	if spans[2].Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", spans[2].Status())
	}
}
