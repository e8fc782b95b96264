package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/statecascade/pkg/schema"
)

func TestResolveState(t *testing.T) {
	def := publishingWorkflow()
	def.States = append(def.States, schema.WorkflowState{ID: "S3", DisplayName: "Published"})

	tests := []struct {
		name   string
		def    *schema.WorkflowDefinition
		lookup string
		wantID string
		code   string
	}{
		{name: "exact match", def: def, lookup: "Review", wantID: "S1"},
		{name: "first duplicate wins", def: def, lookup: "Published", wantID: "S2"},
		{name: "case sensitive", def: def, lookup: "review", code: schema.ErrCodeUnknownState},
		{name: "no trimming", def: def, lookup: "Review ", code: schema.ErrCodeUnknownState},
		{name: "empty name", def: def, lookup: "", code: schema.ErrCodeUnknownState},
		{name: "no workflow", def: nil, lookup: "Review", code: schema.ErrCodeNoWorkflow},
		{name: "no states", def: &schema.WorkflowDefinition{ID: "empty"}, lookup: "Review", code: schema.ErrCodeUnknownState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := ResolveState(tt.def, tt.lookup)
			if tt.code != "" {
				require.Error(t, err)
				assert.Nil(t, st)
				assert.Equal(t, tt.code, schema.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, st.ID)
		})
	}
}

func TestResolveState_Messages(t *testing.T) {
	_, err := ResolveState(nil, "Review")
	assert.EqualError(t, err, "[NO_WORKFLOW_ASSIGNED] No workflow assigned to item")

	_, err = ResolveState(publishingWorkflow(), "Archived")
	var ce *schema.CascadeError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "Cannot find workflow state Archived", ce.Message)
	assert.Equal(t, "wf-publishing", ce.Details["workflow_id"])
}

func TestResolveState_ReturnsCopy(t *testing.T) {
	def := publishingWorkflow()
	st, err := ResolveState(def, "Draft")
	require.NoError(t, err)

	st.DisplayName = "changed"
	assert.Equal(t, "Draft", def.States[0].DisplayName)
}
