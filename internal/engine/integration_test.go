package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/statecascade/internal/identity"
	"github.com/rendis/statecascade/internal/logging"
	"github.com/rendis/statecascade/internal/publish"
	"github.com/rendis/statecascade/internal/store"
	"github.com/rendis/statecascade/pkg/schema"
)

func TestPropagate_LibSQLEndToEnd(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reg, err := store.OpenAll(ctx, map[string]string{
		"master": "file:" + filepath.Join(dir, "master.db"),
		"web":    "file:" + filepath.Join(dir, "web.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	master, err := reg.Get("master")
	require.NoError(t, err)
	web, err := reg.Get("web")
	require.NoError(t, err)

	wf := publishingWorkflow()
	require.NoError(t, master.CreateWorkflow(ctx, wf))

	media := &schema.Item{Name: "hero.jpg"}
	require.NoError(t, master.CreateItem(ctx, media))
	page := &schema.Item{Name: "Page", WorkflowID: wf.ID, WorkflowStateID: "S0"}
	require.NoError(t, master.CreateItem(ctx, page))
	section := &schema.Item{
		Name: "SectionA", ParentID: page.ID, WorkflowID: wf.ID, WorkflowStateID: "S0",
		Fields: []schema.Field{image("Hero", `<image mediaid="{`+media.ID+`}" />`)},
	}
	require.NoError(t, master.CreateItem(ctx, section))
	require.NoError(t, master.LockItem(ctx, section.ID, "bob"))
	readOnly := &schema.Item{Name: "Legal", ParentID: page.ID, ReadOnly: true}
	require.NoError(t, master.CreateItem(ctx, readOnly))

	queue := publish.NewQueue(publish.QueueConfig{Buffer: 8}, logging.Discard())
	worker := publish.NewWorker(queue, publish.NewStoreTransport(reg), master, publish.WorkerConfig{PoolSize: 2}, logging.Discard())
	require.NoError(t, worker.Start(ctx))
	t.Cleanup(worker.Stop)

	p := NewPropagator(Deps{Store: master, Publisher: queue, Logger: logging.Discard()})
	root, err := master.GetItem(ctx, page.ID)
	require.NoError(t, err)

	rep := p.Run(identity.WithActor(ctx, "alice"), root, "Published")
	require.Equal(t, &schema.PropagationResult{Success: true, Message: "OK", StateID: "S2"}, rep.Result)

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, worker.Drain(drainCtx))

	got, err := master.GetItem(ctx, section.ID)
	require.NoError(t, err)
	assert.Equal(t, "S2", got.WorkflowStateID)
	assert.False(t, got.Locked)

	legal, err := master.GetItem(ctx, readOnly.ID)
	require.NoError(t, err)
	assert.Empty(t, legal.WorkflowStateID)

	published, err := web.GetItem(ctx, media.ID)
	require.NoError(t, err)
	assert.Equal(t, "hero.jpg", published.Name)

	trace, err := store.NewEventLog(master).ReplayPropagation(ctx, rep.PropagationID)
	require.NoError(t, err)
	assert.Equal(t, "completed", trace.Status)
	assert.Equal(t, page.ID, trace.RootID)
	assert.Equal(t, "Published", trace.StateName)
	assert.Equal(t, schema.NodeStatusMutated, trace.Nodes[page.ID])
	assert.Equal(t, schema.NodeStatusMutated, trace.Nodes[section.ID])
	assert.Equal(t, schema.NodeStatusSkipped, trace.Nodes[readOnly.ID])
	assert.Equal(t, 1, trace.LocksReleased)
	assert.Equal(t, 1, trace.Republished)

	records, err := master.ListPublishRecords(ctx, store.PublishFilter{ItemID: media.ID})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, schema.PublishStatusCompleted, records[0].Status)
}
