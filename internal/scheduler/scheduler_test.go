package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/statecascade/internal/engine"
	"github.com/rendis/statecascade/internal/expressions"
	"github.com/rendis/statecascade/internal/identity"
	"github.com/rendis/statecascade/internal/logging"
	"github.com/rendis/statecascade/internal/store"
	"github.com/rendis/statecascade/pkg/schema"
)

// mockSchedulerStore is an in-memory Store for scheduler tests.
type mockSchedulerStore struct {
	mu        sync.Mutex
	items     map[string]*schema.Item
	schedules map[string]*store.Schedule
	updateErr error
}

func newMockSchedulerStore() *mockSchedulerStore {
	return &mockSchedulerStore{
		items:     make(map[string]*schema.Item),
		schedules: make(map[string]*store.Schedule),
	}
}

func (m *mockSchedulerStore) GetItem(_ context.Context, id string) (*schema.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "item %q not found", id)
	}
	cp := *item
	return &cp, nil
}

func (m *mockSchedulerStore) GetChildren(context.Context, string) ([]*schema.Item, error) {
	return nil, nil
}

func (m *mockSchedulerStore) CreateSchedule(_ context.Context, sch *store.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sch.ID == "" {
		sch.ID = "sch-" + sch.RootID
	}
	cp := *sch
	m.schedules[sch.ID] = &cp
	return nil
}

func (m *mockSchedulerStore) UpdateSchedule(_ context.Context, id string, update store.ScheduleUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	sch, ok := m.schedules[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "schedule %q not found", id)
	}
	if update.Enabled != nil {
		sch.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		sch.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		sch.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		sch.LastRunStatus = update.LastRunStatus
	}
	if update.LastMessage != "" {
		sch.LastMessage = update.LastMessage
	}
	return nil
}

func (m *mockSchedulerStore) ListSchedules(_ context.Context, filter store.ScheduleFilter) ([]*store.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Schedule
	for _, sch := range m.schedules {
		if filter.Enabled != nil && sch.Enabled != *filter.Enabled {
			continue
		}
		cp := *sch
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockSchedulerStore) get(id string) *store.Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.schedules[id]
	return &cp
}

// mockRunner records propagations.
type mockRunner struct {
	mu     sync.Mutex
	calls  []string
	actors []string
	result *schema.PropagationResult
}

func (r *mockRunner) PropagateByID(ctx context.Context, rootID, stateName string) *engine.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, rootID+":"+stateName)
	r.actors = append(r.actors, identity.ActorFrom(ctx))
	res := r.result
	if res == nil {
		res = schema.Succeeded("S2")
	}
	return &engine.Report{PropagationID: "p", Result: res}
}

var fixedNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, s *mockSchedulerStore, r *mockRunner) *Scheduler {
	t.Helper()
	guards, err := expressions.NewCELEngine()
	require.NoError(t, err)
	return NewScheduler(s, r, guards, Config{Now: func() time.Time { return fixedNow }}, logging.Discard())
}

func addDue(s *mockSchedulerStore, id, rootID, condition string) {
	past := fixedNow.Add(-time.Minute)
	s.schedules[id] = &store.Schedule{
		ID: id, RootID: rootID, StateName: "Published", CronExpression: "0 * * * *",
		Condition: condition, Enabled: true, NextRunAt: &past,
	}
}

func TestCalculateNextRun(t *testing.T) {
	sched := newTestScheduler(t, newMockSchedulerStore(), &mockRunner{})

	next, err := sched.CalculateNextRun("0 * * * *", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC), next)

	next, err = sched.CalculateNextRun("@daily", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC), next)

	_, err = sched.CalculateNextRun("not a cron", fixedNow)
	assert.Error(t, err)
}

func TestAddSchedule(t *testing.T) {
	s := newMockSchedulerStore()
	s.items["page"] = &schema.Item{ID: "page"}
	sched := newTestScheduler(t, s, &mockRunner{})
	ctx := context.Background()

	sch := &store.Schedule{RootID: "page", StateName: "Published", CronExpression: "*/15 * * * *", Condition: "!item.locked", Actor: "alice"}
	require.NoError(t, sched.AddSchedule(ctx, sch))

	stored := s.get(sch.ID)
	assert.True(t, stored.Enabled)
	require.NotNil(t, stored.NextRunAt)
	assert.Equal(t, time.Date(2026, 5, 4, 10, 45, 0, 0, time.UTC), *stored.NextRunAt)

	tests := []struct {
		name string
		sch  *store.Schedule
		code string
	}{
		{"missing root", &store.Schedule{RootID: "nope", StateName: "Published", CronExpression: "@hourly"}, schema.ErrCodeNotFound},
		{"bad cron", &store.Schedule{RootID: "page", StateName: "Published", CronExpression: "every hour"}, schema.ErrCodeValidation},
		{"bad condition", &store.Schedule{RootID: "page", StateName: "Published", CronExpression: "@hourly", Condition: "item.locked &&"}, schema.ErrCodeValidation},
		{"bad actor", &store.Schedule{RootID: "page", StateName: "Published", CronExpression: "@hourly", Actor: "a b"}, schema.ErrCodeValidation},
		{"no state", &store.Schedule{RootID: "page", CronExpression: "@hourly"}, schema.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sched.AddSchedule(ctx, tt.sch)
			require.Error(t, err)
			assert.Equal(t, tt.code, schema.CodeOf(err))
		})
	}
}

func TestTick_RunsDueSchedules(t *testing.T) {
	s := newMockSchedulerStore()
	s.items["page"] = &schema.Item{ID: "page"}
	addDue(s, "due", "page", "")
	future := fixedNow.Add(time.Hour)
	s.schedules["later"] = &store.Schedule{ID: "later", RootID: "page", StateName: "Draft", CronExpression: "@hourly", Enabled: true, NextRunAt: &future}
	s.schedules["off"] = &store.Schedule{ID: "off", RootID: "page", StateName: "Draft", CronExpression: "@hourly"}
	s.schedules["due"].Actor = "alice"

	r := &mockRunner{}
	newTestScheduler(t, s, r).Tick(context.Background())

	assert.Equal(t, []string{"page:Published"}, r.calls)
	assert.Equal(t, []string{"alice"}, r.actors)

	due := s.get("due")
	assert.Equal(t, StatusSuccess, due.LastRunStatus)
	assert.Equal(t, "OK", due.LastMessage)
	require.NotNil(t, due.LastRunAt)
	assert.Equal(t, fixedNow, *due.LastRunAt)
	assert.Equal(t, time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC), *due.NextRunAt)
	assert.Empty(t, s.get("later").LastRunStatus)
}

func TestTick_GuardCondition(t *testing.T) {
	s := newMockSchedulerStore()
	s.items["locked"] = &schema.Item{ID: "locked", Locked: true}
	s.items["free"] = &schema.Item{ID: "free"}
	addDue(s, "a", "locked", "!item.locked")
	addDue(s, "b", "free", "!item.locked && schedule.state_name == 'Published'")
	addDue(s, "c", "free", "item.name")

	r := &mockRunner{}
	newTestScheduler(t, s, r).Tick(context.Background())

	assert.Equal(t, []string{"free:Published"}, r.calls)
	assert.Equal(t, StatusSkipped, s.get("a").LastRunStatus)
	assert.Equal(t, StatusSuccess, s.get("b").LastRunStatus)
	assert.Equal(t, StatusError, s.get("c").LastRunStatus)
}

func TestTick_FailedPropagation(t *testing.T) {
	s := newMockSchedulerStore()
	s.items["page"] = &schema.Item{ID: "page"}
	addDue(s, "due", "page", "")

	r := &mockRunner{result: schema.Failed(schema.NewError(schema.ErrCodeUnknownState, "Cannot find workflow state Published"))}
	newTestScheduler(t, s, r).Tick(context.Background())

	due := s.get("due")
	assert.Equal(t, StatusFailed, due.LastRunStatus)
	assert.Equal(t, "Cannot find workflow state Published", due.LastMessage)
}

func TestRecoverMissed_CollectsErrors(t *testing.T) {
	s := newMockSchedulerStore()
	s.items["page"] = &schema.Item{ID: "page"}
	addDue(s, "one", "page", "")
	addDue(s, "two", "page", "")
	s.updateErr = errors.New("db locked")

	n, err := newTestScheduler(t, s, &mockRunner{}).RecoverMissed(context.Background())
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Contains(t, err.Error(), "2 errors occurred")
	assert.Contains(t, err.Error(), "db locked")
}

func TestRecoverMissed(t *testing.T) {
	s := newMockSchedulerStore()
	s.items["page"] = &schema.Item{ID: "page"}
	addDue(s, "one", "page", "")

	r := &mockRunner{}
	n, err := newTestScheduler(t, s, r).RecoverMissed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, r.calls, 1)
}

func TestStartStop(t *testing.T) {
	s := newMockSchedulerStore()
	s.items["page"] = &schema.Item{ID: "page"}
	addDue(s, "due", "page", "")

	r := &mockRunner{}
	sched := newTestScheduler(t, s, r)
	require.NoError(t, sched.Start(context.Background()))
	assert.Error(t, sched.Start(context.Background()))

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.calls) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Stop())
}
