package store

import (
	"context"

	"github.com/rendis/statecascade/pkg/schema"
)

// ItemReader exposes read access to the content tree.
type ItemReader interface {
	GetItem(ctx context.Context, id string) (*schema.Item, error)
	// GetChildren returns the direct children of parentID in sibling order.
	GetChildren(ctx context.Context, parentID string) ([]*schema.Item, error)
}

// WorkflowProvider resolves the workflow governing an item.
// It returns (nil, nil) when no workflow is assigned.
type WorkflowProvider interface {
	WorkflowFor(ctx context.Context, item *schema.Item) (*schema.WorkflowDefinition, error)
}

// RenderingReader lists the renderings bound to an item for a device.
type RenderingReader interface {
	GetRenderings(ctx context.Context, itemID, device string) ([]schema.RenderingReference, error)
}

// EventAppender appends to the event log.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *Event) error
}

// Editor opens edit boundaries on items.
type Editor interface {
	// BeginEdit fails with EDIT_BOUNDARY_DENIED when the item refuses edits.
	BeginEdit(ctx context.Context, itemID string, opts EditOptions) (Edit, error)
}

// Edit buffers changes to one item until Commit. Release is idempotent and
// discards uncommitted changes; it must be called on every path.
type Edit interface {
	SetWorkflowState(stateID string)
	ClearLock()
	Commit(ctx context.Context) error
	Release()
}

// ContentStore is everything the propagation engine needs from a store.
type ContentStore interface {
	ItemReader
	WorkflowProvider
	RenderingReader
	EventAppender
	Editor
}

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	ContentStore

	// Items
	CreateItem(ctx context.Context, item *schema.Item) error
	UpsertItem(ctx context.Context, item *schema.Item) error
	DeleteItem(ctx context.Context, id string) error
	LockItem(ctx context.Context, id, owner string) error

	// Workflows
	CreateWorkflow(ctx context.Context, wf *schema.WorkflowDefinition) error
	GetWorkflow(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
	ListWorkflows(ctx context.Context) ([]*schema.WorkflowDefinition, error)
	AssignWorkflow(ctx context.Context, itemID, workflowID, stateID string) error

	// Renderings
	AddRendering(ctx context.Context, ref *schema.RenderingReference) error

	// Event log
	GetEvents(ctx context.Context, filter EventFilter) ([]*Event, error)

	// Publish records
	RecordPublish(ctx context.Context, rec *PublishRecord) error
	ListPublishRecords(ctx context.Context, filter PublishFilter) ([]*PublishRecord, error)

	// Schedules
	CreateSchedule(ctx context.Context, sch *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
