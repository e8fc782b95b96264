package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/rendis/statecascade/internal/identity"
	"github.com/rendis/statecascade/internal/publish"
	"github.com/rendis/statecascade/internal/store"
	"github.com/rendis/statecascade/pkg/schema"
)

// mockStore is an in-memory store.ContentStore.
type mockStore struct {
	mu         sync.Mutex
	items      map[string]*schema.Item
	children   map[string][]string
	workflows  map[string]*schema.WorkflowDefinition
	renderings map[string][]schema.RenderingReference
	denied     map[string]bool
	listErr    map[string]error
	events     []*store.Event

	listed        map[string]int
	workflowCalls int
	begins        int
	releases      int
	commits       int
	silentCommits int
}

func newMockStore() *mockStore {
	return &mockStore{
		items:      make(map[string]*schema.Item),
		children:   make(map[string][]string),
		workflows:  make(map[string]*schema.WorkflowDefinition),
		renderings: make(map[string][]schema.RenderingReference),
		denied:     make(map[string]bool),
		listErr:    make(map[string]error),
		listed:     make(map[string]int),
	}
}

// publishingWorkflow has a terminal "Published" state with ID S2.
func publishingWorkflow() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:             "wf-publishing",
		Name:           "publishing",
		InitialStateID: "S0",
		States: []schema.WorkflowState{
			{ID: "S0", DisplayName: "Draft"},
			{ID: "S1", DisplayName: "Review"},
			{ID: "S2", DisplayName: "Published", Terminal: true},
		},
	}
}

func (m *mockStore) addWorkflow(def *schema.WorkflowDefinition) {
	m.workflows[def.ID] = def
}

// add stores item and appends it to its parent's children.
func (m *mockStore) add(item *schema.Item) *schema.Item {
	m.items[item.ID] = item
	if item.ParentID != "" {
		m.children[item.ParentID] = append(m.children[item.ParentID], item.ID)
	}
	return item
}

func (m *mockStore) state(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id].WorkflowStateID
}

func (m *mockStore) locked(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id].Locked
}

func (m *mockStore) eventsOf(eventType string) []*store.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Event
	for _, e := range m.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (m *mockStore) GetItem(_ context.Context, id string) (*schema.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "item %q not found", id)
	}
	cp := *item
	return &cp, nil
}

func (m *mockStore) GetChildren(_ context.Context, parentID string) ([]*schema.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listed[parentID]++
	if err := m.listErr[parentID]; err != nil {
		return nil, err
	}
	var out []*schema.Item
	for _, id := range m.children[parentID] {
		cp := *m.items[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) WorkflowFor(_ context.Context, item *schema.Item) (*schema.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflowCalls++
	if item.WorkflowID == "" {
		return nil, nil
	}
	return m.workflows[item.WorkflowID], nil
}

func (m *mockStore) GetRenderings(_ context.Context, itemID, device string) ([]schema.RenderingReference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schema.RenderingReference
	for _, r := range m.renderings[itemID] {
		if r.Device == device {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) AppendEvent(_ context.Context, e *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *mockStore) BeginEdit(_ context.Context, itemID string, opts store.EditOptions) (store.Edit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[itemID]; !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "item %q not found", itemID)
	}
	if m.denied[itemID] {
		return nil, schema.NewError(schema.ErrCodeEditDenied, "edit denied").WithItem(itemID)
	}
	m.begins++
	return &mockEdit{store: m, itemID: itemID, opts: opts}, nil
}

type mockEdit struct {
	store     *mockStore
	itemID    string
	opts      store.EditOptions
	stateID   *string
	clearLock bool
	released  bool
}

func (e *mockEdit) SetWorkflowState(stateID string) { e.stateID = &stateID }
func (e *mockEdit) ClearLock()                      { e.clearLock = true }

func (e *mockEdit) Commit(_ context.Context) error {
	if e.released {
		return errors.New("edit already released")
	}
	m := e.store
	m.mu.Lock()
	item := m.items[e.itemID]
	if e.stateID != nil {
		item.WorkflowStateID = *e.stateID
	}
	if e.clearLock {
		item.Locked = false
		item.LockedBy = ""
	}
	if e.opts.Silent {
		m.silentCommits++
	} else {
		item.Revision++
		m.commits++
	}
	m.mu.Unlock()
	e.Release()
	return nil
}

func (e *mockEdit) Release() {
	if e.released {
		return
	}
	e.released = true
	e.store.mu.Lock()
	e.store.releases++
	e.store.mu.Unlock()
}

// recordingPublisher captures submitted requests and whether the submission
// ran in an elevated scope.
type recordingPublisher struct {
	mu       sync.Mutex
	requests []publish.Request
	elevated []bool
}

func (p *recordingPublisher) Submit(ctx context.Context, req publish.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	p.elevated = append(p.elevated, identity.IsElevated(ctx))
}

func (p *recordingPublisher) Requests() []publish.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publish.Request(nil), p.requests...)
}
