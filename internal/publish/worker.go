package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/rendis/statecascade/internal/identity"
	"github.com/rendis/statecascade/internal/logging"
	"github.com/rendis/statecascade/internal/store"
	"github.com/rendis/statecascade/pkg/schema"
)

// Recorder persists publish outcomes.
type Recorder interface {
	RecordPublish(ctx context.Context, rec *store.PublishRecord) error
	store.EventAppender
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	PoolSize int
	Breaker  BreakerConfig
}

// Worker consumes the republish topic and runs each request on a bounded pool.
type Worker struct {
	queue     *Queue
	transport Transport
	recorder  Recorder
	pool      *Pool
	breakers  *Breakers
	logger    *slog.Logger

	handled atomic.Int64
	loop    sync.WaitGroup
}

// NewWorker wires a worker to its queue, transport and recorder.
func NewWorker(q *Queue, t Transport, rec Recorder, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Worker{
		queue:     q,
		transport: t,
		recorder:  rec,
		pool:      NewPool(cfg.PoolSize, logger),
		breakers:  NewBreakers(cfg.Breaker),
		logger:    logger,
	}
}

// Start subscribes to the queue and begins consuming in the background.
func (w *Worker) Start(ctx context.Context) error {
	messages, err := w.queue.Subscribe(ctx)
	if err != nil {
		return err
	}
	w.loop.Add(1)
	go func() {
		defer w.loop.Done()
		for msg := range messages {
			w.dispatch(ctx, msg)
		}
	}()
	w.logger.Info("republish worker started")
	return nil
}

// Stop closes the queue and waits for in-flight jobs.
func (w *Worker) Stop() {
	if err := w.queue.Close(); err != nil {
		w.logger.Warn("close republish queue", slog.String("error", err.Error()))
	}
	w.loop.Wait()
	w.pool.Shutdown()
}

// Drain blocks until every request accepted by the queue has been handled.
func (w *Worker) Drain(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for w.handled.Load() < w.queue.Submitted() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	w.pool.Wait()
	return nil
}

// Metrics returns the pool counters.
func (w *Worker) Metrics() PoolMetrics { return w.pool.Metrics() }

// Breakers exposes the per-target breakers.
func (w *Worker) Breakers() *Breakers { return w.breakers }

func (w *Worker) dispatch(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	req, elevated, err := decodeRequest(msg)
	if err != nil {
		w.handled.Add(1)
		w.logger.Error("discarding malformed republish message",
			slog.String("message_id", msg.UUID), slog.String("error", err.Error()))
		return
	}
	if err := w.pool.Submit(ctx, func(ctx context.Context) error {
		defer w.handled.Add(1)
		return w.run(ctx, req, elevated)
	}); err != nil {
		w.handled.Add(1)
		w.logger.Warn("republish request not scheduled",
			slog.String("request_id", req.ID), slog.String("error", err.Error()))
	}
}

func (w *Worker) run(ctx context.Context, req Request, elevated bool) error {
	ctx = logging.WithPropagationID(ctx, req.PropagationID)
	ctx = identity.WithActor(ctx, req.Actor)
	if elevated {
		var release func()
		ctx, release = identity.Elevate(ctx)
		defer release()
	}
	log := logging.LogWith(ctx, w.logger).With(slog.String("request_id", req.ID), slog.String("media_item", req.ItemID))

	rec := &store.PublishRecord{
		ID:          req.ID,
		SourceStore: req.Source,
		TargetStore: req.Target,
		ItemID:      req.ItemID,
		Recursive:   req.Recursive,
		EffectiveAt: effectiveAt(req),
	}

	var err error
	if err = w.breakers.Allow(req.Target); err == nil {
		rec.Copied, err = w.transport.Publish(ctx, req)
		switch {
		case err == nil:
			w.breakers.Success(req.Target)
		case schema.IsCode(err, schema.ErrCodeAccessDenied), schema.IsCode(err, schema.ErrCodeNotFound):
			// Caller errors say nothing about target health.
		default:
			if w.breakers.Failure(req.Target) == CircuitOpen {
				log.Warn("publish circuit opened", slog.String("target", req.Target))
			}
		}
	}

	eventType := schema.EventPublishCompleted
	switch {
	case err == nil:
		rec.Status = schema.PublishStatusCompleted
		log.Info("media item published", slog.Int("copied", rec.Copied))
	case schema.IsCode(err, schema.ErrCodeAccessDenied), schema.IsCode(err, schema.ErrCodeCircuitOpen):
		rec.Status = schema.PublishStatusRejected
		rec.Error = err.Error()
		eventType = schema.EventPublishFailed
		log.Warn("publish rejected", slog.String("error", err.Error()))
	default:
		rec.Status = schema.PublishStatusFailed
		rec.Error = err.Error()
		eventType = schema.EventPublishFailed
		log.Error("publish failed", slog.String("error", err.Error()))
	}

	w.record(ctx, log, rec, eventType)
	return err
}

func (w *Worker) record(ctx context.Context, log *slog.Logger, rec *store.PublishRecord, eventType string) {
	if w.recorder == nil {
		return
	}
	if err := w.recorder.RecordPublish(ctx, rec); err != nil {
		log.Error("record publish outcome", slog.String("error", err.Error()))
	}
	payload, _ := json.Marshal(rec)
	if err := w.recorder.AppendEvent(ctx, &store.Event{
		PropagationID: logging.PropagationID(ctx),
		ItemID:        rec.ItemID,
		Type:          eventType,
		Payload:       payload,
		Actor:         identity.ActorFrom(ctx),
	}); err != nil {
		log.Error("append publish event", slog.String("error", err.Error()))
	}
}
