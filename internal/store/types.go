package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/statecascade/pkg/schema"
)

// Event is an immutable entry in the per-item event log.
type Event struct {
	ID            int64           `json:"id"`
	PropagationID string          `json:"propagation_id,omitempty"`
	ItemID        string          `json:"item_id"`
	Type          string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Actor         string          `json:"actor,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Sequence      int64           `json:"sequence"`
}

// EditOptions control how an edit boundary commits.
// A silent edit does not bump the revision, touch updated_at or log an item_updated event.
type EditOptions struct {
	Silent        bool
	Actor         string
	PropagationID string
}

// PublishRecord is the persisted outcome of one republish request.
type PublishRecord struct {
	ID          string               `json:"id"`
	SourceStore string               `json:"source_store"`
	TargetStore string               `json:"target_store"`
	ItemID      string               `json:"item_id"`
	Recursive   bool                 `json:"recursive"`
	EffectiveAt time.Time            `json:"effective_at"`
	Status      schema.PublishStatus `json:"status"`
	Error       string               `json:"error,omitempty"`
	Copied      int                  `json:"copied"`
	CreatedAt   time.Time            `json:"created_at"`
}

// Schedule is a cron-triggered propagation.
type Schedule struct {
	ID             string     `json:"id"`
	RootID         string     `json:"root_id"`
	StateName      string     `json:"state_name"`
	CronExpression string     `json:"cron_expression"`
	Condition      string     `json:"condition,omitempty"` // CEL guard over the root item
	Actor          string     `json:"actor,omitempty"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
	LastMessage    string     `json:"last_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// --- Filter and update types ---

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	ItemID        string     `json:"item_id,omitempty"`
	PropagationID string     `json:"propagation_id,omitempty"`
	EventType     string     `json:"event_type,omitempty"`
	Since         *time.Time `json:"since,omitempty"`
	Limit         int        `json:"limit,omitempty"`
}

// PublishFilter specifies criteria for listing publish records.
type PublishFilter struct {
	ItemID string               `json:"item_id,omitempty"`
	Status schema.PublishStatus `json:"status,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
}

// ScheduleUpdate specifies mutable fields of a schedule.
type ScheduleUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
	LastMessage   string     `json:"last_message,omitempty"`
}

// ScheduleFilter specifies criteria for listing schedules.
type ScheduleFilter struct {
	Enabled *bool  `json:"enabled,omitempty"`
	RootID  string `json:"root_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}
