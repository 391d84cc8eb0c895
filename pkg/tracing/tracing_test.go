package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Enabled {
		t.Error("expected tracing disabled by default")
	}
	if cfg.ServiceName != "depthcap" {
		t.Errorf("expected service name 'depthcap', got '%s'", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected sample rate 1.0, got %f", cfg.SampleRate)
	}
}

func TestInitDisabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestSpanHelpers(t *testing.T) {
	ctx := context.Background()

	ctx, session := TraceSession(ctx, "session-1")
	defer session.End()

	hctx, handshake := TraceHandshake(ctx, "master")
	AddSpanAttributes(hctx, attribute.String("test.key", "test.value"))
	RecordError(hctx, errors.New("checklist mismatch"))
	handshake.End()

	_, drain := TraceDrain(ctx, 400)
	drain.End()

	_, upload := TraceUpload(ctx, 200)
	upload.End()

	// The global provider is a no-op in tests so there is no trace ID.
	if id := TraceID(ctx); id != "" {
		t.Errorf("expected empty trace id without a provider, got %q", id)
	}
}
