package engine

import (
	"context"
	"encoding/json"

	"github.com/rendis/statecascade/internal/identity"
	"github.com/rendis/statecascade/internal/logging"
	"github.com/rendis/statecascade/internal/store"
	"github.com/rendis/statecascade/pkg/schema"
)

// LockOutcome reports what ReconcileLock did.
type LockOutcome struct {
	Released    bool
	Republished int
}

// ReconcileLock applies the lock release policy for state to item. Terminal
// states republish the item's images and, if the item is locked, clear the
// lock in a silent edit. Non-terminal states do nothing.
func (p *Propagator) ReconcileLock(ctx context.Context, state *schema.WorkflowState, item *schema.Item) (LockOutcome, error) {
	var out LockOutcome
	if state == nil || !state.Terminal {
		return out, nil
	}

	out.Republished = p.RepublishImages(ctx, item)
	if !item.Locked {
		return out, nil
	}

	edit, err := p.store.BeginEdit(ctx, item.ID, store.EditOptions{
		Silent:        true,
		Actor:         identity.ActorFrom(ctx),
		PropagationID: logging.PropagationID(ctx),
	})
	if err != nil {
		return out, editError(item.ID, err)
	}
	defer edit.Release()

	edit.ClearLock()
	if err := edit.Commit(ctx); err != nil {
		return out, editError(item.ID, err)
	}

	prevOwner := item.LockedBy
	item.Locked = false
	item.LockedBy = ""
	out.Released = true

	payload, _ := json.Marshal(map[string]string{"locked_by": prevOwner, "state_id": state.ID})
	if err := p.store.AppendEvent(ctx, &store.Event{
		PropagationID: logging.PropagationID(ctx),
		ItemID:        item.ID,
		Type:          schema.EventLockReleased,
		Payload:       payload,
		Actor:         identity.ActorFrom(ctx),
	}); err != nil {
		logging.LogWith(ctx, p.logger).Warn("lock event not recorded", "item_id", item.ID, "error", err)
	}
	return out, nil
}
