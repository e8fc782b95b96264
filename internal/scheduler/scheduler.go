package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"

	"github.com/rendis/statecascade/internal/engine"
	"github.com/rendis/statecascade/internal/expressions"
	"github.com/rendis/statecascade/internal/identity"
	"github.com/rendis/statecascade/internal/store"
	"github.com/rendis/statecascade/pkg/schema"
)

// Run statuses recorded on a schedule.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// DefaultInterval is how often the scheduler looks for due schedules.
const DefaultInterval = 60 * time.Second

// Runner runs one propagation. Satisfied by *engine.Propagator.
type Runner interface {
	PropagateByID(ctx context.Context, rootID, stateName string) *engine.Report
}

// Store is the subset of store.Store the scheduler needs.
type Store interface {
	store.ItemReader
	CreateSchedule(ctx context.Context, sch *store.Schedule) error
	UpdateSchedule(ctx context.Context, id string, update store.ScheduleUpdate) error
	ListSchedules(ctx context.Context, filter store.ScheduleFilter) ([]*store.Schedule, error)
}

// Config tunes a Scheduler.
type Config struct {
	Interval time.Duration
	Now      func() time.Time
}

// Scheduler polls the store for due schedules and runs their propagations.
type Scheduler struct {
	store    Store
	runner   Runner
	guards   *expressions.CELEngine
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule IDs currently running
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s Store, runner Runner, guards *expressions.CELEngine, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		guards:   guards,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		interval: cfg.Interval,
		now:      cfg.Now,
		inflight: make(map[string]struct{}),
	}
}

// AddSchedule validates and stores a new enabled schedule.
func (s *Scheduler) AddSchedule(ctx context.Context, sch *store.Schedule) error {
	if sch.RootID == "" || sch.StateName == "" {
		return schema.NewError(schema.ErrCodeValidation, "root id and state name are required")
	}
	if _, err := s.store.GetItem(ctx, sch.RootID); err != nil {
		return err
	}
	next, err := s.CalculateNextRun(sch.CronExpression, s.now().UTC())
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}
	if s.guards != nil {
		if err := s.guards.Check(sch.Condition); err != nil {
			return err
		}
	}
	if sch.Actor != "" {
		if err := identity.ValidateActor(sch.Actor); err != nil {
			return err
		}
	}
	sch.Enabled = true
	sch.NextRunAt = &next
	return s.store.CreateSchedule(ctx, sch)
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every enabled schedule that is due.
func (s *Scheduler) Tick(ctx context.Context) {
	enabled := true
	schedules, err := s.store.ListSchedules(ctx, store.ScheduleFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list schedules", slog.String("error", err.Error()))
		return
	}

	now := s.now().UTC()
	for _, sch := range schedules {
		if sch.NextRunAt != nil && sch.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(sch.ID) {
			continue
		}
		if err := s.runSchedule(ctx, sch, now); err != nil {
			s.logger.Error("failed to run schedule",
				slog.String("schedule_id", sch.ID),
				slog.String("error", err.Error()),
			)
		}
		s.release(sch.ID)
	}
}

// runSchedule evaluates the guard, runs the propagation and records the outcome.
func (s *Scheduler) runSchedule(ctx context.Context, sch *store.Schedule, now time.Time) error {
	actor := sch.Actor
	if actor == "" {
		actor = identity.SystemActor
	}
	ctx = identity.WithActor(ctx, actor)

	s.logger.Info("running schedule",
		slog.String("schedule_id", sch.ID),
		slog.String("root_id", sch.RootID),
		slog.String("state_name", sch.StateName),
	)

	ok, err := s.guard(ctx, sch)
	if err != nil {
		return s.record(ctx, sch, now, StatusError, err.Error())
	}
	if !ok {
		return s.record(ctx, sch, now, StatusSkipped, "condition not met")
	}

	rep := s.runner.PropagateByID(ctx, sch.RootID, sch.StateName)
	status := StatusSuccess
	if !rep.Result.Success {
		status = StatusFailed
		s.logger.Warn("scheduled propagation failed",
			slog.String("schedule_id", sch.ID),
			slog.String("code", rep.Result.Code),
			slog.String("message", rep.Result.Message),
		)
	}
	return s.record(ctx, sch, now, status, rep.Result.Message)
}

func (s *Scheduler) guard(ctx context.Context, sch *store.Schedule) (bool, error) {
	if sch.Condition == "" || s.guards == nil {
		return true, nil
	}
	root, err := s.store.GetItem(ctx, sch.RootID)
	if err != nil {
		return false, err
	}
	return s.guards.EvaluateBool(ctx, sch.Condition, map[string]any{
		"item": expressions.ItemData(root),
		"schedule": map[string]any{
			"id":         sch.ID,
			"root_id":    sch.RootID,
			"state_name": sch.StateName,
			"actor":      sch.Actor,
		},
	})
}

func (s *Scheduler) record(ctx context.Context, sch *store.Schedule, now time.Time, status, message string) error {
	next, err := s.CalculateNextRun(sch.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for schedule %q: %w", sch.ID, err)
	}
	return s.store.UpdateSchedule(ctx, sch.ID, store.ScheduleUpdate{
		LastRunAt:     &now,
		NextRunAt:     &next,
		LastRunStatus: status,
		LastMessage:   message,
	})
}

func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return sched.Next(from), nil
}

// Stop shuts down the scheduling loop and waits for it to exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed runs, once, every enabled schedule whose next run is in the
// past. Failures of individual schedules are collected and returned together.
func (s *Scheduler) RecoverMissed(ctx context.Context) (int, error) {
	enabled := true
	schedules, err := s.store.ListSchedules(ctx, store.ScheduleFilter{Enabled: &enabled})
	if err != nil {
		return 0, fmt.Errorf("list missed schedules: %w", err)
	}

	now := s.now().UTC()
	var errs *multierror.Error
	recovered := 0
	for _, sch := range schedules {
		if sch.NextRunAt == nil || !sch.NextRunAt.Before(now) {
			continue
		}
		if !s.tryAcquire(sch.ID) {
			continue
		}
		err := s.runSchedule(ctx, sch, now)
		s.release(sch.ID)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("schedule %s: %w", sch.ID, err))
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered missed schedules", slog.Int("count", recovered))
	}
	return recovered, errs.ErrorOrNil()
}
