package schema

// ImportDocument is the JSON document accepted by the importer.
type ImportDocument struct {
	Workflows   []WorkflowDefinition `json:"workflows,omitempty"`
	Items       []ImportItem         `json:"items,omitempty"`
	Renderings  []RenderingReference `json:"renderings,omitempty"`
	Assignments []WorkflowAssignment `json:"assignments,omitempty"`
}

// ImportItem is an item with its children nested in tree order.
type ImportItem struct {
	ID              string       `json:"id,omitempty"`
	Name            string       `json:"name"`
	Fields          []Field      `json:"fields,omitempty"`
	Locked          bool         `json:"locked,omitempty"`
	LockedBy        string       `json:"locked_by,omitempty"`
	ReadOnly        bool         `json:"read_only,omitempty"`
	WorkflowID      string       `json:"workflow_id,omitempty"`
	WorkflowStateID string       `json:"workflow_state_id,omitempty"`
	Children        []ImportItem `json:"children,omitempty"`
}

// WorkflowAssignment binds an existing item to a workflow, optionally in a
// given state.
type WorkflowAssignment struct {
	ItemID     string `json:"item_id"`
	WorkflowID string `json:"workflow_id"`
	StateID    string `json:"state_id,omitempty"`
}
