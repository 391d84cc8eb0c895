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

const tracerName = "depthcap"

// TracerProvider wraps OpenTelemetry tracer provider
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

// Config contains tracing configuration
type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

// DefaultConfig returns default tracing configuration
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "depthcap",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// Init initializes tracing. With tracing disabled the global no-op
// provider stays in place and spans cost nothing.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String("1.0.0"),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.TraceIDRatioBased(cfg.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

// Shutdown shuts down the tracer provider
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp != nil {
		return tp.tp.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a new span
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// AddSpanAttributes adds attributes to the current span
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError records an error in the current span
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceID returns the hex trace ID of the span in ctx, or "" without one
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Common span attributes
var (
	SessionIDKey = attribute.Key("session.id")
	SerialKey    = attribute.Key("camera.serial")
	RoleKey      = attribute.Key("camera.role")
	TimestampKey = attribute.Key("frame.timestamp")
	BytesKey     = attribute.Key("frame.bytes")
	CountKey     = attribute.Key("frame.count")
)

// TraceSession traces one supervisor iteration
func TraceSession(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "session.run", trace.WithAttributes(SessionIDKey.String(sessionID)))
}

// TraceHandshake traces the handshake for a configured role
func TraceHandshake(ctx context.Context, role string) (context.Context, trace.Span) {
	return StartSpan(ctx, "handshake", trace.WithAttributes(RoleKey.String(role)))
}

// TraceDrain traces a retention drain up to a timestamp
func TraceDrain(ctx context.Context, upTo uint64) (context.Context, trace.Span) {
	return StartSpan(ctx, "drain", trace.WithAttributes(TimestampKey.Int64(int64(upTo))))
}

// TraceUpload traces the upload of one spooled frame
func TraceUpload(ctx context.Context, timestamp uint64) (context.Context, trace.Span) {
	return StartSpan(ctx, "upload.frame", trace.WithAttributes(TimestampKey.Int64(int64(timestamp))))
}
