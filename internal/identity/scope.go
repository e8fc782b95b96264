package identity

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/rendis/statecascade/internal/logging"
	"github.com/rendis/statecascade/pkg/schema"
)

// SystemActor is used when no actor is attached to the context.
const SystemActor = "system"

type ctxKey int

const (
	actorKey ctxKey = iota
	scopeKey
)

// ValidateActor checks that name is usable as an actor identity.
func ValidateActor(name string) error {
	if strings.TrimSpace(name) == "" {
		return schema.NewError(schema.ErrCodeValidation, "actor is required")
	}
	if strings.ContainsAny(name, " \t\r\n") {
		return schema.NewErrorf(schema.ErrCodeValidation, "actor %q must not contain whitespace", name)
	}
	return nil
}

// WithActor attaches the acting identity to ctx. The actor is also picked up by
// the correlation log handler.
func WithActor(ctx context.Context, actor string) context.Context {
	ctx = context.WithValue(ctx, actorKey, actor)
	return logging.WithActor(ctx, actor)
}

// ActorFrom returns the actor attached to ctx, or SystemActor.
func ActorFrom(ctx context.Context) string {
	if v, _ := ctx.Value(actorKey).(string); v != "" {
		return v
	}
	return SystemActor
}

type elevation struct {
	released atomic.Bool
}

// Elevate opens an elevated security scope that bypasses per-actor access
// checks. The returned release func ends the scope; it is safe to call more
// than once and must be called on every path.
func Elevate(ctx context.Context) (context.Context, func()) {
	e := &elevation{}
	return context.WithValue(ctx, scopeKey, e), func() { e.released.Store(true) }
}

// IsElevated reports whether ctx carries an unreleased elevated scope.
func IsElevated(ctx context.Context) bool {
	e, _ := ctx.Value(scopeKey).(*elevation)
	return e != nil && !e.released.Load()
}

// RequireElevated returns ACCESS_DENIED unless ctx is elevated.
func RequireElevated(ctx context.Context, operation string) error {
	if IsElevated(ctx) {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeAccessDenied, "%s requires an elevated scope", operation).
		WithDetails(map[string]any{"actor": ActorFrom(ctx)})
}
