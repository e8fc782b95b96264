// Package publish moves items from a source content store into a target store.
// Requests are queued on an in-process watermill topic and executed by a Worker.
package publish

import (
	"context"
	"time"
)

// TopicRepublish is the queue topic carrying republish requests.
const TopicRepublish = "republish"

// Metadata keys set on queued messages.
const (
	metaPropagationID = "propagation_id"
	metaActor         = "actor"
	metaElevated      = "elevated"
	metaTarget        = "target"
)

// Request asks for one item to be copied from Source to Target.
type Request struct {
	ID            string    `json:"id"`
	Source        string    `json:"source"`
	Target        string    `json:"target"`
	ItemID        string    `json:"item_id"`
	Recursive     bool      `json:"recursive"`
	EffectiveAt   time.Time `json:"effective_at"`
	PropagationID string    `json:"propagation_id,omitempty"`
	Actor         string    `json:"actor,omitempty"`
}

// Publisher accepts republish requests. Submit is fire-and-forget: it returns
// no handle and no error, and callers never learn the outcome.
type Publisher interface {
	Submit(ctx context.Context, req Request)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, req Request)

func (f PublisherFunc) Submit(ctx context.Context, req Request) { f(ctx, req) }
