package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/statecascade/pkg/schema"
)

// EventLog provides history queries on top of a Store's event log.
type EventLog struct {
	store Store
}

// NewEventLog wraps a Store to provide history queries.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// ItemHistory returns all events of an item ordered by sequence.
// Returns an error if sequence gaps are detected.
func (el *EventLog) ItemHistory(ctx context.Context, itemID string) ([]*Event, error) {
	events, err := el.store.GetEvents(ctx, EventFilter{ItemID: itemID})
	if err != nil {
		return nil, fmt.Errorf("get item events: %w", err)
	}
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in item %s: expected %d, got %d", itemID, expected, e.Sequence)
		}
	}
	return events, nil
}

// PropagationTrace is the state of one propagation rebuilt from its events.
type PropagationTrace struct {
	PropagationID string                       `json:"propagation_id"`
	RootID        string                       `json:"root_id,omitempty"`
	StateName     string                       `json:"state_name,omitempty"`
	Status        string                       `json:"status"` // running, completed, failed
	Message       string                       `json:"message,omitempty"`
	Nodes         map[string]schema.NodeStatus `json:"nodes"`
	LocksReleased int                          `json:"locks_released"`
	Republished   int                          `json:"republished"`
	StartedAt     *time.Time                   `json:"started_at,omitempty"`
	FinishedAt    *time.Time                   `json:"finished_at,omitempty"`
}

// PropagationPayload is the payload of propagation lifecycle events.
type PropagationPayload struct {
	RootID    string `json:"root_id,omitempty"`
	StateName string `json:"state_name,omitempty"`
	StateID   string `json:"state_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Visited   int    `json:"visited,omitempty"`
	Failed    int    `json:"failed,omitempty"`
}

// ReplayPropagation rebuilds a propagation's trace from its events.
func (el *EventLog) ReplayPropagation(ctx context.Context, propagationID string) (*PropagationTrace, error) {
	events, err := el.store.GetEvents(ctx, EventFilter{PropagationID: propagationID})
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}
	if len(events) == 0 {
		return nil, storeNotFound("propagation", propagationID)
	}

	trace := &PropagationTrace{
		PropagationID: propagationID,
		Status:        "running",
		Nodes:         make(map[string]schema.NodeStatus),
	}

	for _, e := range events {
		ts := e.Timestamp
		switch e.Type {
		case schema.EventPropagationStarted:
			var p PropagationPayload
			_ = json.Unmarshal(e.Payload, &p)
			trace.RootID = p.RootID
			trace.StateName = p.StateName
			trace.StartedAt = &ts

		case schema.EventPropagationCompleted:
			trace.Status = "completed"
			trace.FinishedAt = &ts

		case schema.EventPropagationFailed:
			var p PropagationPayload
			_ = json.Unmarshal(e.Payload, &p)
			trace.Status = "failed"
			trace.Message = p.Message
			trace.FinishedAt = &ts

		case schema.EventStateApplied:
			trace.Nodes[e.ItemID] = schema.NodeStatusMutated

		case schema.EventNodeSkipped:
			if _, seen := trace.Nodes[e.ItemID]; !seen {
				trace.Nodes[e.ItemID] = schema.NodeStatusSkipped
			}

		case schema.EventLockReleased:
			trace.LocksReleased++

		case schema.EventRepublishSubmitted:
			trace.Republished++
		}
	}
	return trace, nil
}
