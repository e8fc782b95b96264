package schema

// Event type constants for the append-only event log.
const (
	EventPropagationStarted   = "propagation_started"
	EventPropagationCompleted = "propagation_completed"
	EventPropagationFailed    = "propagation_failed"

	EventStateApplied       = "state_applied"
	EventNodeSkipped        = "node_skipped"
	EventLockReleased       = "lock_released"
	EventRepublishSubmitted = "republish_submitted"

	EventItemUpdated = "item_updated"

	EventPublishCompleted = "publish_completed"
	EventPublishFailed    = "publish_failed"
)

// NodeStatus is the walk status of one item during a propagation.
type NodeStatus string

const (
	NodeStatusUnvisited NodeStatus = "unvisited"
	NodeStatusMutated   NodeStatus = "mutated"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// PublishStatus is the outcome of one republish attempt.
type PublishStatus string

const (
	PublishStatusCompleted PublishStatus = "completed"
	PublishStatusFailed    PublishStatus = "failed"
	PublishStatusRejected  PublishStatus = "rejected"
)
