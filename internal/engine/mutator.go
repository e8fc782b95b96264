package engine

import (
	"context"
	"errors"

	"github.com/rendis/statecascade/internal/identity"
	"github.com/rendis/statecascade/internal/logging"
	"github.com/rendis/statecascade/internal/store"
	"github.com/rendis/statecascade/pkg/schema"
)

// ApplyState sets the workflow state of one item inside a single edit boundary.
// The boundary is released on every path. A denied boundary surfaces as
// EDIT_BOUNDARY_DENIED; the state ID is not checked against the workflow.
func (p *Propagator) ApplyState(ctx context.Context, itemID, stateID string) error {
	edit, err := p.store.BeginEdit(ctx, itemID, store.EditOptions{
		Actor:         identity.ActorFrom(ctx),
		PropagationID: logging.PropagationID(ctx),
	})
	if err != nil {
		return editError(itemID, err)
	}
	defer edit.Release()

	edit.SetWorkflowState(stateID)
	if err := edit.Commit(ctx); err != nil {
		return editError(itemID, err)
	}
	return nil
}

// editError keeps coded store errors and classifies the rest as denied edits.
func editError(itemID string, err error) error {
	var ce *schema.CascadeError
	if errors.As(err, &ce) {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeEditDenied, "edit of %s failed: %s", itemID, err.Error()).
		WithItem(itemID).
		WithCause(err)
}
