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

	// Initially empty.
	assert.Equal(t, "", ToolID(ctx))
	assert.Equal(t, "", TriggerID(ctx))
	assert.Equal(t, "", OrgID(ctx))

	// Set values.
	ctx = WithToolID(ctx, "tool-123")
	ctx = WithTriggerID(ctx, "trig-1")
	ctx = WithOrgID(ctx, "org-42")

	// Round-trip.
	assert.Equal(t, "tool-123", ToolID(ctx))
	assert.Equal(t, "trig-1", TriggerID(ctx))
	assert.Equal(t, "org-42", OrgID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := context.Background()
	ctx = WithToolID(ctx, "tool-abc")
	ctx = WithTriggerID(ctx, "trig-x")
	ctx = WithOrgID(ctx, "org-7")

	enriched := LogWith(ctx, logger)
	enriched.Info("test message")

	output := buf.String()
	assert.Contains(t, output, "tool_id=tool-abc")
	assert.Contains(t, output, "trigger_id=trig-x")
	assert.Contains(t, output, "org_id=org-7")
	assert.Contains(t, output, "test message")
}

func TestLogWithMissingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Only set tool ID — trigger and org should not appear.
	ctx := WithToolID(context.Background(), "tool-only")

	enriched := LogWith(ctx, logger)
	enriched.Info("partial context")

	output := buf.String()
	assert.Contains(t, output, "tool_id=tool-only")
	assert.NotContains(t, output, "trigger_id")
	assert.NotContains(t, output, "org_id")
}

func TestLogWithEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// No correlation IDs — no extra attrs.
	enriched := LogWith(context.Background(), logger)
	enriched.Info("no context")

	output := buf.String()
	assert.NotContains(t, output, "tool_id")
	assert.NotContains(t, output, "trigger_id")
	assert.NotContains(t, output, "org_id")
	assert.Contains(t, output, "no context")
}

func TestWithIDs(t *testing.T) {
	ctx := WithIDs(context.Background(), "tool-1", "trig-2", "org-3")
	assert.Equal(t, "tool-1", ToolID(ctx))
	assert.Equal(t, "trig-2", TriggerID(ctx))
	assert.Equal(t, "org-3", OrgID(ctx))
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithIDs(context.Background(), "tool-auto", "trig-auto", "org-auto")
	logger.InfoContext(ctx, "auto inject")

	output := buf.String()
	assert.Contains(t, output, `"tool_id":"tool-auto"`)
	assert.Contains(t, output, `"trigger_id":"trig-auto"`)
	assert.Contains(t, output, `"org_id":"org-auto"`)
	assert.Contains(t, output, "auto inject")
}

func TestCorrelationHandlerEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	logger.InfoContext(context.Background(), "bare log")

	output := buf.String()
	assert.NotContains(t, output, "tool_id")
	assert.NotContains(t, output, "trigger_id")
	assert.NotContains(t, output, "org_id")
	assert.Contains(t, output, "bare log")
}

func TestCorrelationHandlerPartialContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithToolID(context.Background(), "tool-only")
	logger.InfoContext(ctx, "partial")

	output := buf.String()
	assert.Contains(t, output, `"tool_id":"tool-only"`)
	assert.NotContains(t, output, "trigger_id")
	assert.NotContains(t, output, "org_id")
}

func TestCorrelationHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "scheduler")}))

	ctx := WithToolID(context.Background(), "tool-attr")
	logger.InfoContext(ctx, "with attrs")

	output := buf.String()
	assert.Contains(t, output, `"tool_id":"tool-attr"`)
	assert.Contains(t, output, `"component":"scheduler"`)
}

func TestCorrelationHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithGroup("scheduler"))

	ctx := WithToolID(context.Background(), "tool-grp")
	logger.InfoContext(ctx, "grouped", "key", "val")

	output := buf.String()
	assert.Contains(t, output, "tool-grp")
	assert.Contains(t, output, "grouped")
}
