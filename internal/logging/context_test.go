package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", PropagationID(ctx))
	assert.Equal(t, "", ItemID(ctx))
	assert.Equal(t, "", Actor(ctx))

	ctx = WithPropagationID(ctx, "prop-1")
	ctx = WithItemID(ctx, "item-9")
	ctx = WithActor(ctx, "alice")

	assert.Equal(t, "prop-1", PropagationID(ctx))
	assert.Equal(t, "item-9", ItemID(ctx))
	assert.Equal(t, "alice", Actor(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithPropagationID(context.Background(), "prop-abc")
	ctx = WithItemID(ctx, "item-x")

	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "propagation_id=prop-abc")
	assert.Contains(t, output, "item_id=item-x")
	assert.NotContains(t, output, "actor")
	assert.Contains(t, output, "test message")
}

func TestLogWithEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LogWith(context.Background(), logger).Info("no context")

	output := buf.String()
	assert.NotContains(t, output, "propagation_id")
	assert.NotContains(t, output, "item_id")
	assert.Contains(t, output, "no context")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithActor(WithItemID(WithPropagationID(context.Background(), "p-auto"), "i-auto"), "bob")
	logger.InfoContext(ctx, "auto inject")

	output := buf.String()
	assert.Contains(t, output, `"propagation_id":"p-auto"`)
	assert.Contains(t, output, `"item_id":"i-auto"`)
	assert.Contains(t, output, `"actor":"bob"`)
}

func TestCorrelationHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	handler := NewCorrelationHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "engine")}))

	logger.InfoContext(WithPropagationID(context.Background(), "p-attr"), "with attrs")

	output := buf.String()
	assert.Contains(t, output, `"propagation_id":"p-attr"`)
	assert.Contains(t, output, `"component":"engine"`)
}

func TestNew_JSONAndExtraSink(t *testing.T) {
	var primary, extra bytes.Buffer
	logger := New(Options{Level: "debug", Format: "json", Output: &primary, Extra: &extra})

	logger.DebugContext(WithItemID(context.Background(), "i-1"), "fanned out")

	assert.Contains(t, primary.String(), `"msg":"fanned out"`)
	assert.Contains(t, primary.String(), `"item_id":"i-1"`)
	assert.Contains(t, extra.String(), `"msg":"fanned out"`)
}

func TestNew_TextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "warn", Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
