package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/rendis/statecascade/internal/identity"
	"github.com/rendis/statecascade/internal/logging"
)

// QueueConfig configures the in-process republish queue.
type QueueConfig struct {
	// Buffer is the per-subscriber output channel size.
	Buffer int64
}

// Queue is a Publisher backed by a watermill gochannel pub/sub.
type Queue struct {
	pubsub     *gochannel.GoChannel
	logger     *slog.Logger
	subscribed atomic.Bool
	submitted  atomic.Int64
}

// NewQueue creates a queue. A nil logger discards queue logs.
func NewQueue(cfg QueueConfig, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            cfg.Buffer,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewSlogLogger(logger),
	)
	return &Queue{pubsub: pubsub, logger: logger}
}

// Submit enqueues the request. Failures are logged, never returned.
// The caller's elevated scope, actor and propagation ID travel with the message.
func (q *Queue) Submit(ctx context.Context, req Request) {
	log := logging.LogWith(ctx, q.logger)
	if req.ID == "" {
		req.ID = watermill.NewULID()
	}
	if req.PropagationID == "" {
		req.PropagationID = logging.PropagationID(ctx)
	}
	if req.Actor == "" {
		req.Actor = identity.ActorFrom(ctx)
	}
	if !q.subscribed.Load() {
		log.Warn("no republish worker is running, request dropped",
			slog.String("request_id", req.ID), slog.String("media_item", req.ItemID))
		return
	}

	payload, err := json.Marshal(req)
	if err != nil {
		log.Error("encode republish request", slog.String("error", err.Error()))
		return
	}
	msg := message.NewMessage(req.ID, payload)
	msg.Metadata.Set(metaPropagationID, req.PropagationID)
	msg.Metadata.Set(metaActor, req.Actor)
	msg.Metadata.Set(metaTarget, req.Target)
	msg.Metadata.Set(metaElevated, strconv.FormatBool(identity.IsElevated(ctx)))

	if err := q.pubsub.Publish(TopicRepublish, msg); err != nil {
		log.Error("publish republish request", slog.String("request_id", req.ID), slog.String("error", err.Error()))
		return
	}
	q.submitted.Add(1)
	log.Debug("republish request queued", slog.String("request_id", req.ID), slog.String("media_item", req.ItemID))
}

// Subscribe returns the stream of queued republish messages.
func (q *Queue) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	messages, err := q.pubsub.Subscribe(ctx, TopicRepublish)
	if err != nil {
		return nil, err
	}
	q.subscribed.Store(true)
	return messages, nil
}

// Submitted is the number of requests accepted onto the topic.
func (q *Queue) Submitted() int64 { return q.submitted.Load() }

// Close closes the pub/sub; subscriber channels are closed.
func (q *Queue) Close() error {
	q.subscribed.Store(false)
	return q.pubsub.Close()
}

func decodeRequest(msg *message.Message) (Request, bool, error) {
	var req Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return Request{}, false, err
	}
	elevated, _ := strconv.ParseBool(msg.Metadata.Get(metaElevated))
	return req, elevated, nil
}
