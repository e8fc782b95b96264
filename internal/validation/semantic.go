package validation

import (
	"fmt"

	"github.com/rendis/statecascade/pkg/schema"
)

// WorkflowLookup resolves workflows that already exist outside the document.
type WorkflowLookup interface {
	Workflow(id string) (*schema.WorkflowDefinition, bool)
}

// WorkflowMap is a WorkflowLookup over an in-memory map.
type WorkflowMap map[string]*schema.WorkflowDefinition

func (m WorkflowMap) Workflow(id string) (*schema.WorkflowDefinition, bool) {
	def, ok := m[id]
	return def, ok
}

type semanticCheck struct {
	lookup    WorkflowLookup
	workflows map[string]*schema.WorkflowDefinition
	itemIDs   map[string]string
	result    *schema.ValidationResult
}

// validateSemantic checks cross references the schema cannot express:
// duplicate IDs, state references, workflow references and initial states.
func validateSemantic(doc *schema.ImportDocument, lookup WorkflowLookup) *schema.ValidationResult {
	c := &semanticCheck{
		lookup:    lookup,
		workflows: make(map[string]*schema.WorkflowDefinition, len(doc.Workflows)),
		itemIDs:   make(map[string]string),
		result:    &schema.ValidationResult{},
	}

	for i := range doc.Workflows {
		c.checkWorkflow(&doc.Workflows[i], fmt.Sprintf("workflows[%d]", i))
	}
	for i := range doc.Items {
		c.checkItem(&doc.Items[i], fmt.Sprintf("items[%d]", i))
	}
	for i, r := range doc.Renderings {
		if _, ok := c.itemIDs[r.ItemID]; !ok {
			c.result.AddWarning(fmt.Sprintf("renderings[%d].item_id", i), schema.ErrCodeNotFound,
				fmt.Sprintf("item %q is not part of the document", r.ItemID))
		}
	}
	for i, a := range doc.Assignments {
		path := fmt.Sprintf("assignments[%d]", i)
		def := c.resolveWorkflow(a.WorkflowID, path+".workflow_id")
		if def != nil && a.StateID != "" && !hasState(def, a.StateID) {
			c.result.AddError(path+".state_id", schema.ErrCodeValidation,
				fmt.Sprintf("state %q is not part of workflow %q", a.StateID, a.WorkflowID))
		}
	}
	return c.result
}

func (c *semanticCheck) checkWorkflow(def *schema.WorkflowDefinition, path string) {
	if _, dup := c.workflows[def.ID]; dup {
		c.result.AddError(path+".id", schema.ErrCodeConflict, fmt.Sprintf("duplicate workflow id %q", def.ID))
		return
	}
	c.workflows[def.ID] = def

	stateIDs := make(map[string]bool, len(def.States))
	names := make(map[string]bool, len(def.States))
	terminal := false
	for j, st := range def.States {
		sp := fmt.Sprintf("%s.states[%d]", path, j)
		if stateIDs[st.ID] {
			c.result.AddError(sp+".id", schema.ErrCodeConflict, fmt.Sprintf("duplicate state id %q", st.ID))
		}
		stateIDs[st.ID] = true
		if names[st.DisplayName] {
			c.result.AddWarning(sp+".display_name", schema.ErrCodeValidation,
				fmt.Sprintf("display name %q repeats; lookups resolve to the first state", st.DisplayName))
		}
		names[st.DisplayName] = true
		terminal = terminal || st.Terminal
	}

	if def.InitialStateID != "" && !stateIDs[def.InitialStateID] {
		c.result.AddError(path+".initial_state_id", schema.ErrCodeValidation,
			fmt.Sprintf("initial state %q is not a state of the workflow", def.InitialStateID))
	}
	if !terminal {
		c.result.AddWarning(path+".states", schema.ErrCodeValidation, "workflow has no terminal state")
	}
}

func (c *semanticCheck) checkItem(item *schema.ImportItem, path string) {
	if item.ID != "" {
		if prev, dup := c.itemIDs[item.ID]; dup {
			c.result.AddError(path+".id", schema.ErrCodeConflict,
				fmt.Sprintf("duplicate item id %q (first at %s)", item.ID, prev))
		} else {
			c.itemIDs[item.ID] = path
		}
	}

	switch {
	case item.WorkflowID != "":
		def := c.resolveWorkflow(item.WorkflowID, path+".workflow_id")
		if def != nil && item.WorkflowStateID != "" && !hasState(def, item.WorkflowStateID) {
			c.result.AddError(path+".workflow_state_id", schema.ErrCodeValidation,
				fmt.Sprintf("state %q is not part of workflow %q", item.WorkflowStateID, item.WorkflowID))
		}
	case item.WorkflowStateID != "":
		c.result.AddWarning(path+".workflow_state_id", schema.ErrCodeValidation,
			"workflow state set without a workflow")
	}

	if item.LockedBy != "" && !item.Locked {
		c.result.AddWarning(path+".locked_by", schema.ErrCodeValidation, "locked_by set on an unlocked item")
	}

	fieldNames := make(map[string]bool, len(item.Fields))
	for j, f := range item.Fields {
		fp := fmt.Sprintf("%s.fields[%d]", path, j)
		if fieldNames[f.Name] {
			c.result.AddError(fp+".name", schema.ErrCodeConflict, fmt.Sprintf("duplicate field %q", f.Name))
		}
		fieldNames[f.Name] = true
		if f.Type == schema.FieldTypeImage && f.Value != "" {
			if _, ok := f.MediaReference(); !ok {
				c.result.AddWarning(fp+".value", schema.ErrCodeValidation, "image value carries no media reference")
			}
		}
	}

	for j := range item.Children {
		c.checkItem(&item.Children[j], fmt.Sprintf("%s.children[%d]", path, j))
	}
}

func (c *semanticCheck) resolveWorkflow(id, path string) *schema.WorkflowDefinition {
	if def, ok := c.workflows[id]; ok {
		return def
	}
	if c.lookup != nil {
		if def, ok := c.lookup.Workflow(id); ok {
			return def
		}
	}
	c.result.AddError(path, schema.ErrCodeNotFound, fmt.Sprintf("unknown workflow %q", id))
	return nil
}

func hasState(def *schema.WorkflowDefinition, stateID string) bool {
	for _, st := range def.States {
		if st.ID == stateID {
			return true
		}
	}
	return false
}
