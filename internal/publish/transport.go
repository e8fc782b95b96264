package publish

import (
	"context"
	"time"

	"github.com/rendis/statecascade/internal/identity"
	"github.com/rendis/statecascade/internal/store"
	"github.com/rendis/statecascade/pkg/schema"
)

// Transport performs a publish and reports how many items were written.
type Transport interface {
	Publish(ctx context.Context, req Request) (int, error)
}

// StoreTransport copies items between stores of a Registry.
type StoreTransport struct {
	stores *store.Registry
}

// NewStoreTransport creates a transport over the registry's stores.
func NewStoreTransport(stores *store.Registry) *StoreTransport {
	return &StoreTransport{stores: stores}
}

// Publish copies req.ItemID, and its descendants when Recursive, from the source
// store into the target store. The caller must hold an elevated scope.
func (t *StoreTransport) Publish(ctx context.Context, req Request) (int, error) {
	if err := identity.RequireElevated(ctx, "publish"); err != nil {
		return 0, err
	}
	src, err := t.stores.Get(req.Source)
	if err != nil {
		return 0, err
	}
	dst, err := t.stores.Get(req.Target)
	if err != nil {
		return 0, err
	}
	if req.Source == req.Target {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "source and target are both %q", req.Source)
	}

	item, err := src.GetItem(ctx, req.ItemID)
	if err != nil {
		return 0, err
	}
	return copyItem(ctx, src, dst, item, req.Recursive, effectiveAt(req))
}

func copyItem(ctx context.Context, src, dst store.Store, item *schema.Item, recursive bool, at time.Time) (int, error) {
	cp := *item
	cp.Fields = append([]schema.Field(nil), item.Fields...)
	cp.Locked = false
	cp.LockedBy = ""
	cp.UpdatedAt = at
	if err := dst.UpsertItem(ctx, &cp); err != nil {
		return 0, schema.NewError(schema.ErrCodePublishFailed, "write target item").WithItem(item.ID).WithCause(err)
	}
	copied := 1
	if !recursive {
		return copied, nil
	}

	children, err := src.GetChildren(ctx, item.ID)
	if err != nil {
		return copied, err
	}
	for _, c := range children {
		n, err := copyItem(ctx, src, dst, c, true, at)
		copied += n
		if err != nil {
			return copied, err
		}
	}
	return copied, nil
}

func effectiveAt(req Request) time.Time {
	if req.EffectiveAt.IsZero() {
		return time.Now().UTC()
	}
	return req.EffectiveAt
}
