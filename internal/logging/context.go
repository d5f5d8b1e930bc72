package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	toolIDKey ctxKey = iota
	triggerIDKey
	orgIDKey
)

// WithToolID returns a context with the tool ID set.
func WithToolID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, toolIDKey, id)
}

// WithTriggerID returns a context with the trigger ID set.
func WithTriggerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, triggerIDKey, id)
}

// WithOrgID returns a context with the org ID set.
func WithOrgID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, orgIDKey, id)
}

// ToolID extracts the tool ID from the context, or "" if absent.
func ToolID(ctx context.Context) string {
	v, _ := ctx.Value(toolIDKey).(string)
	return v
}

// TriggerID extracts the trigger ID from the context, or "" if absent.
func TriggerID(ctx context.Context) string {
	v, _ := ctx.Value(triggerIDKey).(string)
	return v
}

// OrgID extracts the org ID from the context, or "" if absent.
func OrgID(ctx context.Context) string {
	v, _ := ctx.Value(orgIDKey).(string)
	return v
}

// WithIDs sets all three correlation IDs on the context at once.
func WithIDs(ctx context.Context, toolID, triggerID, orgID string) context.Context {
	ctx = WithToolID(ctx, toolID)
	ctx = WithTriggerID(ctx, triggerID)
	ctx = WithOrgID(ctx, orgID)
	return ctx
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if tID := ToolID(ctx); tID != "" {
		logger = logger.With(slog.String("tool_id", tID))
	}
	if trID := TriggerID(ctx); trID != "" {
		logger = logger.With(slog.String("trigger_id", trID))
	}
	if oID := OrgID(ctx); oID != "" {
		logger = logger.With(slog.String("org_id", oID))
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := ToolID(ctx); v != "" {
		r.AddAttrs(slog.String("tool_id", v))
	}
	if v := TriggerID(ctx); v != "" {
		r.AddAttrs(slog.String("trigger_id", v))
	}
	if v := OrgID(ctx); v != "" {
		r.AddAttrs(slog.String("org_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
