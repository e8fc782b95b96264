package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	propagationIDKey ctxKey = iota
	itemIDKey
	actorKey
)

// WithPropagationID returns a context carrying the propagation ID.
func WithPropagationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, propagationIDKey, id)
}

// WithItemID returns a context carrying the item currently being processed.
func WithItemID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, itemIDKey, id)
}

// WithActor returns a context carrying the acting user.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// PropagationID extracts the propagation ID from the context, or "" if absent.
func PropagationID(ctx context.Context) string {
	v, _ := ctx.Value(propagationIDKey).(string)
	return v
}

// ItemID extracts the item ID from the context, or "" if absent.
func ItemID(ctx context.Context) string {
	v, _ := ctx.Value(itemIDKey).(string)
	return v
}

// Actor extracts the actor from the context, or "" if absent.
func Actor(ctx context.Context) string {
	v, _ := ctx.Value(actorKey).(string)
	return v
}

func correlationAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := PropagationID(ctx); v != "" {
		attrs = append(attrs, slog.String("propagation_id", v))
	}
	if v := ItemID(ctx); v != "" {
		attrs = append(attrs, slog.String("item_id", v))
	}
	if v := Actor(ctx); v != "" {
		attrs = append(attrs, slog.String("actor", v))
	}
	return attrs
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, injecting correlation IDs from the
// context into every record logged with a *Context method.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
