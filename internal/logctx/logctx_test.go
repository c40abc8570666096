package logctx

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFromContext_FallsBackToDefault(t *testing.T) {
	assert.Equal(t, slog.Default(), LoggerFromContext(context.Background()))
}

func TestWithLogger_RoundTrip(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)

	assert.Same(t, logger, LoggerFromContext(ctx))
}

func TestWith_AttachesAttributes(t *testing.T) {
	var buf bytes.Buffer

	ctx := WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))
	ctx = With(ctx, "url", "https://cdn.example.com/ep1.mp3")

	LoggerFromContext(ctx).Info("resolved")

	assert.Contains(t, buf.String(), "url=https://cdn.example.com/ep1.mp3")
}

func TestTraceHandler_DelegatesWithoutSpan(t *testing.T) {
	var buf bytes.Buffer

	handler := NewTraceHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(handler)

	logger.Info("hello")

	out := buf.String()
	require.Contains(t, out, `"msg":"hello"`)
	assert.NotContains(t, out, "trace_id")
}

func TestNewTraceHandler_NilHandlerPanics(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}
