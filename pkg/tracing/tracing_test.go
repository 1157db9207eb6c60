package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "aivision", cfg.ServiceName)
	assert.Equal(t, "http://localhost:14268/api/traces", cfg.JaegerURL)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestStartSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.operation")
	require.NotNil(t, span)
	AddSpanAttributes(ctx, attribute.String("test.key", "test.value"), SessionIDKey.String("session_1"))
	RecordError(ctx, errors.New("boom"))
	span.End()
}

func TestSpanHelpers(t *testing.T) {
	ctx := context.Background()

	_, span := TraceHTTPRequest(ctx, "GET", "/api/state")
	assert.NotNil(t, span)
	span.End()

	_, span = TraceDial(ctx, "ws://localhost:8000/ws/client_1", 2)
	assert.NotNil(t, span)
	span.End()

	_, span = TraceCommand(ctx, "clear_detections", "client_1")
	assert.NotNil(t, span)
	span.End()

	_, span = TraceUpstream(ctx, "export", "/api/export/json")
	assert.NotNil(t, span)
	span.End()
}
