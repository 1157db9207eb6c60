package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "aivision"

// Span attribute keys shared by the client components.
var (
	ClientIDKey  = attribute.Key("client.id")
	SessionIDKey = attribute.Key("session.id")
	TargetKey    = attribute.Key("backend.target")
	CommandKey   = attribute.Key("command.name")
	AttemptKey   = attribute.Key("reconnect.attempt")
	UpstreamKey  = attribute.Key("upstream.operation")
)

type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "aivision",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// TracerProvider owns the SDK provider. The zero value is a disabled
// provider whose Shutdown is a no-op.
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

// Init installs a Jaeger-backed global tracer provider. With tracing
// disabled spans still work but go to the otel no-op tracer.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("jaeger exporter: %w", err)
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

func newResource(cfg Config) (*resource.Resource, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}
	return res, nil
}

// Shutdown flushes pending spans.
func (p *TracerProvider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceHTTPRequest starts a server span for the local status API.
func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return StartSpan(ctx, "http."+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(route),
		),
	)
}

// TraceDial covers one websocket dial to the detection backend.
func TraceDial(ctx context.Context, target string, attempt int) (context.Context, trace.Span) {
	return StartSpan(ctx, "websocket.dial",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			TargetKey.String(target),
			AttemptKey.Int(attempt),
		),
	)
}

func TraceCommand(ctx context.Context, name, clientID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "command."+name,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			CommandKey.String(name),
			ClientIDKey.String(clientID),
		),
	)
}

// TraceUpstream covers a call to the backend REST API, retries included.
func TraceUpstream(ctx context.Context, operation, path string) (context.Context, trace.Span) {
	return StartSpan(ctx, "upstream."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			UpstreamKey.String(operation),
			semconv.HTTPTargetKey.String(path),
		),
	)
}
