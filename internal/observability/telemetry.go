package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ServiceVersion is reported on every span resource.
const ServiceVersion = "0.1.0"

// Config holds tracing settings for a daemon.
type Config struct {
	Enabled     bool
	Exporter    string  // otlp-http, noop
	Endpoint    string  // OTLP collector, host:port
	ServiceName string  // defaults to pulsar
	SampleRate  float64 // 0.0 to 1.0
	// Peer is the address this daemon is announced under. Spans from
	// several daemons on one collector are told apart by it.
	Peer string
}

type provider struct {
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
}

var global = disabledProvider()

func disabledProvider() *provider {
	return &provider{tracer: noop.NewTracerProvider().Tracer("")}
}

// Init installs the process-wide tracer. Action spans, peer calls and REST
// requests all report through it. A disabled config installs a no-op tracer.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		global = disabledProvider()
		return nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "pulsar"
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(ServiceVersion),
	}
	if cfg.Peer != "" {
		attrs = append(attrs, AttrPeer.String(cfg.Peer))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return fmt.Errorf("tracing resource: %w", err)
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return err
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate >= 0 && cfg.SampleRate < 1.0 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}

	install(sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	), cfg.ServiceName)
	return nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp-http", "otlp", "":
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("tracing exporter %s: %w", cfg.Endpoint, err)
		}
		return exp, nil
	case "noop":
		return discardExporter{}, nil
	}
	return nil, fmt.Errorf("unknown tracing exporter %q", cfg.Exporter)
}

// install makes tp the process tracer. Envelopes carry W3C trace context, so
// the text map propagator is always TraceContext plus Baggage.
func install(tp *sdktrace.TracerProvider, name string) {
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	global = &provider{tp: tp, tracer: tp.Tracer(name), enabled: true}
}

// Shutdown flushes buffered spans, waiting at most five seconds.
func Shutdown(ctx context.Context) error {
	if global.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return global.tp.Shutdown(ctx)
}

// Tracer returns the process tracer.
func Tracer() trace.Tracer {
	return global.tracer
}

// Enabled reports whether spans are recorded.
func Enabled() bool {
	return global.enabled
}

type discardExporter struct{}

func (discardExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (discardExporter) Shutdown(context.Context) error                             { return nil }
