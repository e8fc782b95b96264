package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pageID    = "6f1c2a9e-3b7d-4c55-9a8e-0d2f4b6c8e10"
	sectionID = "section"
)

const siteDoc = `{
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
      "id": "` + pageID + `",
      "name": "Page",
      "workflow_id": "wf",
      "workflow_state_id": "S0",
      "children": [
        {"id": "` + sectionID + `", "name": "Section", "locked": true, "locked_by": "bob",
         "workflow_id": "wf", "workflow_state_id": "S0",
         "fields": [{"name": "Hero", "type": "image", "value": "media-hero"}]}
      ]
    }
  ],
  "renderings": [
    {"item_id": "` + pageID + `", "rendering_id": "hero", "data_source": "/data/hero"},
    {"item_id": "` + pageID + `", "rendering_id": "promo", "data_source": "/data/hero"}
  ]
}`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "statecascade.yaml")
	content := "db_path: " + filepath.Join(dir, "cms.db") + "\nlog_level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	doc := filepath.Join(dir, "site.json")
	require.NoError(t, os.WriteFile(doc, []byte(siteDoc), 0o600))
	return path
}

func runCLI(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfg}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionSkipsConfig(t *testing.T) {
	out, err := runCLI(t, filepath.Join(t.TempDir(), "missing.yaml"), "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestImportPropagateAndInspect(t *testing.T) {
	cfg := writeConfig(t)
	doc := filepath.Join(filepath.Dir(cfg), "site.json")

	out, err := runCLI(t, cfg, "import", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 workflows, 3 items, 2 renderings")

	out, err = runCLI(t, cfg, "propagate", pageID, "Published", "--jq", ".result.success")
	require.NoError(t, err)
	assert.Equal(t, "true", strings.TrimSpace(out))

	out, err = runCLI(t, cfg, "item", sectionID, "--jq", "[.workflow_state_id, .locked]")
	require.NoError(t, err)
	assert.JSONEq(t, `["S2", false]`, out)

	out, err = runCLI(t, cfg, "publishes", "--jq", "[.[] | .item_id, .status]")
	require.NoError(t, err)
	assert.JSONEq(t, `["media-hero", "completed"]`, out)

	out, err = runCLI(t, cfg, "datasources", "{"+pageID+"}")
	require.NoError(t, err)
	assert.Equal(t, "/data/hero\n", out)

	out, err = runCLI(t, cfg, "events", sectionID, "--type", "lock_released", "--jq", ".events | length")
	require.NoError(t, err)
	assert.Equal(t, "1", strings.TrimSpace(out))
}

func TestPropagateUnknownStateFails(t *testing.T) {
	cfg := writeConfig(t)
	_, err := runCLI(t, cfg, "import", filepath.Join(filepath.Dir(cfg), "site.json"))
	require.NoError(t, err)

	out, err := runCLI(t, cfg, "propagate", pageID, "published")
	require.Error(t, err)
	assert.Equal(t, "Cannot find workflow state published", err.Error())
	assert.Contains(t, out, "UNKNOWN_STATE_NAME")
}

func TestScheduleAddListRemove(t *testing.T) {
	cfg := writeConfig(t)
	_, err := runCLI(t, cfg, "import", filepath.Join(filepath.Dir(cfg), "site.json"))
	require.NoError(t, err)

	out, err := runCLI(t, cfg, "schedule", "add", pageID, "Published",
		"--cron", "@hourly", "--condition", "item.workflow_state_id == 'S0'", "--jq", ".id")
	require.NoError(t, err)
	id := strings.Trim(strings.TrimSpace(out), `"`)
	require.NotEmpty(t, id)

	out, err = runCLI(t, cfg, "schedule", "list", "--jq", "[.[] | .state_name]")
	require.NoError(t, err)
	assert.JSONEq(t, `["Published"]`, out)

	_, err = runCLI(t, cfg, "schedule", "add", pageID, "Published", "--cron", "not a cron")
	assert.Error(t, err)

	out, err = runCLI(t, cfg, "schedule", "remove", id)
	require.NoError(t, err)
	assert.Contains(t, out, "removed")

	out, err = runCLI(t, cfg, "schedule", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "(none)")
}

func TestEventsRequiresTarget(t *testing.T) {
	cfg := writeConfig(t)
	_, err := runCLI(t, cfg, "events")
	assert.Error(t, err)
}
