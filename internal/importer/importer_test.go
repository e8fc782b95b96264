package importer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/statecascade/internal/logging"
	"github.com/rendis/statecascade/internal/store"
	"github.com/rendis/statecascade/pkg/schema"
)

func newTestStore(t *testing.T) *store.LibSQLStore {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "import.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const pageDoc = `{
  "workflows": [{
    "id": "wf",
    "name": "publishing",
    "initial_state_id": "S0",
    "states": [
      {"id": "S0", "display_name": "Draft"},
      {"id": "S2", "display_name": "Published", "terminal": true}
    ]
  }],
  "items": [
    {"id": "media-hero", "name": "hero.jpg"},
    {
      "id": "page",
      "name": "Page",
      "workflow_id": "wf",
      "workflow_state_id": "S0",
      "children": [
        {"id": "section-a", "name": "SectionA", "locked": true, "locked_by": "bob",
         "fields": [{"name": "Hero", "type": "image", "value": "media-hero"}]},
        {"name": "SectionB"}
      ]
    }
  ],
  "renderings": [{"item_id": "page", "rendering_id": "hero", "data_source": "/data/hero"}],
  "assignments": [{"item_id": "section-a", "workflow_id": "wf"}]
}`

func TestImport_WritesTree(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sum, err := New(s, logging.Discard()).Import(ctx, []byte(pageDoc))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Workflows)
	assert.Equal(t, 4, sum.Items)
	assert.Equal(t, 1, sum.Renderings)
	assert.Equal(t, 1, sum.Assignments)
	assert.Equal(t, []string{"media-hero", "page"}, sum.RootIDs)

	children, err := s.GetChildren(ctx, "page")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "SectionA", children[0].Name)
	assert.Equal(t, "SectionB", children[1].Name)
	assert.NotEmpty(t, children[1].ID)

	section := children[0]
	assert.True(t, section.Locked)
	assert.Equal(t, "bob", section.LockedBy)
	assert.Equal(t, "wf", section.WorkflowID)
	assert.Equal(t, "S0", section.WorkflowStateID, "assignment defaults to the initial state")
	assert.Equal(t, []schema.MediaReference{{MediaID: "media-hero"}}, section.MediaReferences())

	refs, err := s.GetRenderings(ctx, "page", schema.DefaultDevice)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "/data/hero", refs[0].DataSource)
}

func TestImport_InvalidWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	raw := `{"items": [{"id": "a", "name": "A", "workflow_id": "missing"}]}`
	_, err := New(s, logging.Discard()).Import(ctx, []byte(raw))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = s.GetItem(ctx, "a")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestImport_ReferencesExistingWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	im := New(s, logging.Discard())

	_, err := im.Import(ctx, []byte(pageDoc))
	require.NoError(t, err)

	raw := `{"items": [{"id": "later", "name": "Later", "workflow_id": "wf", "workflow_state_id": "S2"}]}`
	sum, err := im.Import(ctx, []byte(raw))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Items)

	item, err := s.GetItem(ctx, "later")
	require.NoError(t, err)
	assert.Equal(t, "S2", item.WorkflowStateID)
}

func TestImport_ReimportUpsertsItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	im := New(s, logging.Discard())

	_, err := im.Import(ctx, []byte(`{"items": [{"id": "a", "name": "First"}]}`))
	require.NoError(t, err)
	_, err = im.Import(ctx, []byte(`{"items": [{"id": "a", "name": "Second"}]}`))
	require.NoError(t, err)

	item, err := s.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Second", item.Name)
}
