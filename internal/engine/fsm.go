package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rendis/statecascade/internal/store"
	"github.com/rendis/statecascade/pkg/schema"
)

// TransitionHook is called before or after a node transition.
type TransitionHook func(itemID string, from, to schema.NodeStatus) error

// ValidNodeTransitions lists the walk states a node may move to. A node is
// visited at most once per propagation.
var ValidNodeTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodeStatusUnvisited: {schema.NodeStatusMutated, schema.NodeStatusSkipped},
}

type nodeHookKey struct {
	from, to schema.NodeStatus
}

// NodeFSM validates per-node walk transitions and logs them to the event log.
type NodeFSM struct {
	mu       sync.Mutex
	appender store.EventAppender
	before   map[nodeHookKey][]TransitionHook
	after    map[nodeHookKey][]TransitionHook
}

// NewNodeFSM creates a NodeFSM that emits events via the given appender.
func NewNodeFSM(appender store.EventAppender) *NodeFSM {
	return &NodeFSM{
		appender: appender,
		before:   make(map[nodeHookKey][]TransitionHook),
		after:    make(map[nodeHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition is logged. A hook
// error vetoes the event.
func (f *NodeFSM) OnBefore(from, to schema.NodeStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := nodeHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition is logged.
func (f *NodeFSM) OnAfter(from, to schema.NodeStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := nodeHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates a node transition and appends the matching event.
func (f *NodeFSM) Transition(ctx context.Context, ev NodeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidNodeTransition(ev.From, ev.To) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid node transition: %s -> %s", ev.From, ev.To).
			WithItem(ev.ItemID).
			WithDetails(map[string]any{"from": string(ev.From), "to": string(ev.To)})
	}

	key := nodeHookKey{ev.From, ev.To}
	for _, hook := range f.before[key] {
		if err := hook(ev.ItemID, ev.From, ev.To); err != nil {
			return err
		}
	}

	payload, _ := json.Marshal(nodePayload{StateID: ev.StateID, Depth: ev.Depth, Error: ev.Error})
	event := &store.Event{
		PropagationID: ev.PropagationID,
		ItemID:        ev.ItemID,
		Type:          nodeEventType(ev.To),
		Payload:       payload,
		Actor:         ev.Actor,
	}
	if err := f.appender.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit node event: %s", err.Error()).WithCause(err)
	}

	for _, hook := range f.after[key] {
		if err := hook(ev.ItemID, ev.From, ev.To); err != nil {
			return err
		}
	}
	return nil
}

// NodeEvent describes one node transition.
type NodeEvent struct {
	PropagationID string
	ItemID        string
	Actor         string
	From, To      schema.NodeStatus
	StateID       string
	Depth         int
	Error         string
}

type nodePayload struct {
	StateID string `json:"state_id,omitempty"`
	Depth   int    `json:"depth"`
	Error   string `json:"error,omitempty"`
}

func isValidNodeTransition(from, to schema.NodeStatus) bool {
	for _, a := range ValidNodeTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func nodeEventType(to schema.NodeStatus) string {
	if to == schema.NodeStatusMutated {
		return schema.EventStateApplied
	}
	return schema.EventNodeSkipped
}
