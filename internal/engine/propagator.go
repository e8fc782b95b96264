// Package engine walks a content subtree and moves every item in it to a named
// workflow state, releasing locks and republishing images on terminal states.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/rendis/statecascade/internal/identity"
	"github.com/rendis/statecascade/internal/logging"
	"github.com/rendis/statecascade/internal/publish"
	"github.com/rendis/statecascade/internal/store"
	"github.com/rendis/statecascade/pkg/schema"
)

// DefaultMaxDepth bounds descendant traversal. The root is depth 0 and items at
// DefaultMaxDepth are visited but never expanded.
const DefaultMaxDepth = 3

// Default store names used for image republication.
const (
	DefaultSourceStore = "master"
	DefaultTargetStore = "web"
)

// Deps are the collaborators of a Propagator.
type Deps struct {
	Store store.ContentStore
	// Workflows overrides Store for workflow lookups (e.g. CachedWorkflows).
	Workflows store.WorkflowProvider
	Publisher publish.Publisher
	Source    string
	Target    string
	MaxDepth  int
	Logger    *slog.Logger
	Now       func() time.Time
}

// NodeOutcome is the result of visiting one item.
type NodeOutcome struct {
	ItemID       string            `json:"item_id"`
	Name         string            `json:"name,omitempty"`
	Depth        int               `json:"depth"`
	Status       schema.NodeStatus `json:"status"`
	LockReleased bool              `json:"lock_released,omitempty"`
	Republished  int               `json:"republished,omitempty"`
	Error        string            `json:"error,omitempty"`
	Err          error             `json:"-"`
}

// NodeObserver is notified after every visited item, root included.
type NodeObserver func(ctx context.Context, outcome NodeOutcome)

// Report is the full account of one propagation. Only Result is part of the
// propagation contract; Nodes are informational.
type Report struct {
	PropagationID string                    `json:"propagation_id"`
	Result        *schema.PropagationResult `json:"result"`
	Nodes         []NodeOutcome             `json:"nodes,omitempty"`
	Duration      time.Duration             `json:"duration"`
}

// Propagator applies a workflow state to a subtree.
type Propagator struct {
	store     store.ContentStore
	workflows store.WorkflowProvider
	publisher publish.Publisher
	source    string
	target    string
	maxDepth  int
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.RWMutex
	observers []NodeObserver
}

// NewPropagator creates a Propagator, filling defaults for unset Deps.
func NewPropagator(d Deps) *Propagator {
	p := &Propagator{
		store:     d.Store,
		workflows: d.Workflows,
		publisher: d.Publisher,
		source:    d.Source,
		target:    d.Target,
		maxDepth:  d.MaxDepth,
		logger:    d.Logger,
		now:       d.Now,
	}
	if p.workflows == nil {
		p.workflows = d.Store
	}
	if p.publisher == nil {
		p.publisher = publish.PublisherFunc(func(context.Context, publish.Request) {})
	}
	if p.source == "" {
		p.source = DefaultSourceStore
	}
	if p.target == "" {
		p.target = DefaultTargetStore
	}
	if p.maxDepth <= 0 {
		p.maxDepth = DefaultMaxDepth
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Observe registers a NodeObserver.
func (p *Propagator) Observe(obs NodeObserver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, obs)
}

// run carries the per-call walk state.
type run struct {
	id    string
	state *schema.WorkflowState
	fsm   *NodeFSM
	nodes []NodeOutcome
	errs  *multierror.Error
}

// Propagate moves root and its descendants to the state named stateName and
// reports the outcome for the root.
func (p *Propagator) Propagate(ctx context.Context, root *schema.Item, stateName string) *schema.PropagationResult {
	return p.Run(ctx, root, stateName).Result
}

// PropagateByID loads the root and runs Propagate on it.
func (p *Propagator) PropagateByID(ctx context.Context, rootID, stateName string) *Report {
	root, err := p.store.GetItem(ctx, rootID)
	if err != nil {
		return &Report{Result: schema.Failed(err)}
	}
	return p.Run(ctx, root, stateName)
}

// Run is Propagate returning the full Report.
func (p *Propagator) Run(ctx context.Context, root *schema.Item, stateName string) *Report {
	start := p.now()
	r := &run{id: uuid.New().String(), fsm: NewNodeFSM(p.store)}
	ctx = logging.WithPropagationID(ctx, r.id)
	log := logging.LogWith(ctx, p.logger).With("root_id", root.ID, "state_name", stateName)

	p.emit(ctx, r, root.ID, schema.EventPropagationStarted, store.PropagationPayload{
		RootID:    root.ID,
		StateName: stateName,
	})

	report := &Report{PropagationID: r.id}
	finish := func(res *schema.PropagationResult) *Report {
		report.Result = res
		report.Nodes = r.nodes
		report.Duration = p.now().Sub(start)
		return report
	}

	def, err := p.workflows.WorkflowFor(ctx, root)
	if err != nil {
		return finish(p.abort(ctx, r, root, err))
	}
	state, err := ResolveState(def, stateName)
	if err != nil {
		return finish(p.abort(ctx, r, root, err))
	}
	r.state = state

	// The root's lock is reconciled before its state is written.
	rootLock, lockErr := p.ReconcileLock(ctx, state, root)
	if lockErr != nil {
		log.Warn("root lock reconciliation failed", "error", lockErr)
	}

	p.walk(ctx, r, root, 1)

	applyErr := p.ApplyState(ctx, root.ID, state.ID)
	rootOutcome := NodeOutcome{
		ItemID:       root.ID,
		Name:         root.Name,
		Status:       schema.NodeStatusMutated,
		LockReleased: rootLock.Released,
		Republished:  rootLock.Republished,
		Err:          lockErr,
	}
	if applyErr != nil {
		rootOutcome.Status = schema.NodeStatusSkipped
		rootOutcome.Err = applyErr
	}
	p.record(ctx, r, rootOutcome)

	if r.errs.ErrorOrNil() != nil {
		log.Warn("descendant failures absorbed", "count", r.errs.Len(), "error", r.errs.Error())
	}

	mutated, skipped := r.counts()
	if applyErr != nil {
		log.Error("propagation failed", "error", applyErr)
		p.emit(ctx, r, root.ID, schema.EventPropagationFailed, store.PropagationPayload{
			RootID:  root.ID,
			StateID: state.ID,
			Message: applyErr.Error(),
			Visited: len(r.nodes),
			Failed:  skipped,
		})
		return finish(schema.Failed(applyErr))
	}

	p.emit(ctx, r, root.ID, schema.EventPropagationCompleted, store.PropagationPayload{
		RootID:  root.ID,
		StateID: state.ID,
		Visited: len(r.nodes),
		Failed:  skipped,
	})
	log.Info("propagation completed",
		"state_id", state.ID,
		"visited", len(r.nodes),
		"mutated", mutated,
		"skipped", skipped,
		"duration", p.now().Sub(start))
	return finish(schema.Succeeded(state.ID))
}

// walk visits the children of parent in pre-order. depth is the depth of those
// children.
func (p *Propagator) walk(ctx context.Context, r *run, parent *schema.Item, depth int) {
	if depth > p.maxDepth {
		return
	}
	children, err := p.store.GetChildren(ctx, parent.ID)
	if err != nil {
		r.errs = multierror.Append(r.errs, err)
		logging.LogWith(ctx, p.logger).Warn("list children failed", "item_id", parent.ID, "error", err)
		return
	}
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			r.errs = multierror.Append(r.errs, err)
			return
		}
		p.visit(ctx, r, child, depth)
		p.walk(ctx, r, child, depth+1)
	}
}

// visit applies the state to one descendant and reconciles its lock. Failures
// are recorded on the outcome and never escape.
func (p *Propagator) visit(ctx context.Context, r *run, item *schema.Item, depth int) {
	ctx = logging.WithItemID(ctx, item.ID)
	out := NodeOutcome{ItemID: item.ID, Name: item.Name, Depth: depth}

	if err := p.ApplyState(ctx, item.ID, r.state.ID); err != nil {
		out.Status = schema.NodeStatusSkipped
		out.Err = err
		logging.LogWith(ctx, p.logger).Warn("state not applied", "depth", depth, "error", err)
		p.record(ctx, r, out)
		return
	}

	out.Status = schema.NodeStatusMutated
	lock, err := p.ReconcileLock(ctx, r.state, item)
	out.LockReleased = lock.Released
	out.Republished = lock.Republished
	if err != nil {
		out.Err = err
		logging.LogWith(ctx, p.logger).Warn("lock reconciliation failed", "depth", depth, "error", err)
	}
	p.record(ctx, r, out)
}

// record stores an outcome, logs the node transition and notifies observers.
func (p *Propagator) record(ctx context.Context, r *run, out NodeOutcome) {
	if out.Err != nil {
		out.Error = out.Err.Error()
		if out.Depth > 0 {
			r.errs = multierror.Append(r.errs, out.Err)
		}
	}
	r.nodes = append(r.nodes, out)

	err := r.fsm.Transition(ctx, NodeEvent{
		PropagationID: r.id,
		ItemID:        out.ItemID,
		Actor:         identity.ActorFrom(ctx),
		From:          schema.NodeStatusUnvisited,
		To:            out.Status,
		StateID:       r.state.ID,
		Depth:         out.Depth,
		Error:         out.Error,
	})
	if err != nil {
		logging.LogWith(ctx, p.logger).Warn("node event not recorded", "item_id", out.ItemID, "error", err)
	}

	p.mu.RLock()
	observers := p.observers
	p.mu.RUnlock()
	for _, obs := range observers {
		obs(ctx, out)
	}
}

// abort ends a propagation that failed before any mutation.
func (p *Propagator) abort(ctx context.Context, r *run, root *schema.Item, err error) *schema.PropagationResult {
	logging.LogWith(ctx, p.logger).Warn("propagation rejected", "root_id", root.ID, "error", err)
	p.emit(ctx, r, root.ID, schema.EventPropagationFailed, store.PropagationPayload{
		RootID:  root.ID,
		Message: err.Error(),
	})
	return schema.Failed(err)
}

func (p *Propagator) emit(ctx context.Context, r *run, itemID, eventType string, payload any) {
	data, _ := json.Marshal(payload)
	err := p.store.AppendEvent(ctx, &store.Event{
		PropagationID: r.id,
		ItemID:        itemID,
		Type:          eventType,
		Payload:       data,
		Actor:         identity.ActorFrom(ctx),
	})
	if err != nil {
		logging.LogWith(ctx, p.logger).Warn("event not recorded", "event_type", eventType, "error", err)
	}
}

func (r *run) counts() (mutated, skipped int) {
	for _, n := range r.nodes {
		switch n.Status {
		case schema.NodeStatusMutated:
			mutated++
		case schema.NodeStatusSkipped:
			skipped++
		}
	}
	return mutated, skipped
}
