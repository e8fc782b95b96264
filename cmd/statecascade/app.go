package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/rendis/statecascade/internal/config"
	"github.com/rendis/statecascade/internal/engine"
	"github.com/rendis/statecascade/internal/expressions"
	"github.com/rendis/statecascade/internal/publish"
	"github.com/rendis/statecascade/internal/scheduler"
	"github.com/rendis/statecascade/internal/store"
)

// drainTimeout bounds how long a command waits for queued republish requests.
const drainTimeout = 30 * time.Second

// app is the wired runtime shared by every command.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	stores     *store.Registry
	source     store.Store
	workflows  *engine.CachedWorkflows
	queue      *publish.Queue
	worker     *publish.Worker
	propagator *engine.Propagator
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	reg, err := store.OpenAll(ctx, cfg.StoreDSNs())
	if err != nil {
		return nil, err
	}
	source, err := reg.Get(cfg.SourceStore)
	if err != nil {
		_ = reg.Close()
		return nil, err
	}
	if _, err := reg.Get(cfg.TargetStore); err != nil {
		_ = reg.Close()
		return nil, err
	}

	queue := publish.NewQueue(publish.QueueConfig{Buffer: cfg.Publish.Buffer}, logger)
	worker := publish.NewWorker(queue, publish.NewStoreTransport(reg), source, publish.WorkerConfig{
		PoolSize: cfg.Publish.PoolSize,
		Breaker: publish.BreakerConfig{
			Threshold: cfg.Publish.BreakerThreshold,
			Cooldown:  cfg.Publish.BreakerCooldown,
		},
	}, logger)
	workflows := engine.NewCachedWorkflows(source, cfg.WorkflowCacheTTL)

	return &app{
		cfg:       cfg,
		logger:    logger,
		stores:    reg,
		source:    source,
		workflows: workflows,
		queue:     queue,
		worker:    worker,
		propagator: engine.NewPropagator(engine.Deps{
			Store:     source,
			Workflows: workflows,
			Publisher: queue,
			Source:    cfg.SourceStore,
			Target:    cfg.TargetStore,
			MaxDepth:  cfg.MaxDepth,
			Logger:    logger,
		}),
	}, nil
}

func (a *app) startWorker(ctx context.Context) error {
	return a.worker.Start(ctx)
}

func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	guards, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	return scheduler.NewScheduler(a.source, a.propagator, guards, scheduler.Config{
		Interval: a.cfg.Scheduler.Interval,
	}, a.logger), nil
}

// close drains outstanding republish requests, then releases every resource.
func (a *app) close(ctx context.Context) error {
	var errs *multierror.Error

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	if err := a.worker.Drain(drainCtx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("drain republish worker: %w", err))
	}
	a.worker.Stop()
	a.workflows.Stop()
	if err := a.stores.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}
