package engine

import "github.com/rendis/statecascade/pkg/schema"

// ResolveState returns the first state of def whose DisplayName equals name.
// Matching is exact and case-sensitive; duplicate names resolve to the first.
func ResolveState(def *schema.WorkflowDefinition, name string) (*schema.WorkflowState, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeNoWorkflow, "No workflow assigned to item")
	}
	for i := range def.States {
		if def.States[i].DisplayName == name {
			st := def.States[i]
			return &st, nil
		}
	}
	return nil, schema.NewError(schema.ErrCodeUnknownState, "Cannot find workflow state "+name).
		WithDetails(map[string]any{"workflow_id": def.ID, "state_name": name})
}
