package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/rendis/statecascade/internal/logging"
	"github.com/rendis/statecascade/pkg/mcp"
)

func newServeCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP stdio server with the scheduler and republish worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.ensureConfig()
			if err != nil {
				return err
			}
			lock := flock.New(cfg.LockPath())
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !ok {
				return fmt.Errorf("another statecascade server holds %s", cfg.LockPath())
			}
			defer func() {
				if err := lock.Unlock(); err != nil {
					c.ensureLogger().Warn("failed to release server lock", slog.String("error", err.Error()))
				}
			}()

			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				log := logging.LogWith(ctx, a.logger)

				if cfg.Scheduler.Enabled {
					sched, err := a.newScheduler()
					if err != nil {
						return err
					}
					if n, err := sched.RecoverMissed(ctx); err != nil {
						log.Warn("missed schedule recovery incomplete", slog.Int("recovered", n), slog.String("error", err.Error()))
					}
					if err := sched.Start(ctx); err != nil {
						return err
					}
					defer func() {
						if err := sched.Stop(); err != nil {
							log.Warn("stop scheduler", slog.String("error", err.Error()))
						}
					}()
				}

				srv := mcp.NewCascadeServer(mcp.CascadeServerDeps{
					Propagator: a.propagator,
					Store:      a.source,
					Actor:      cfg.Actor,
					Version:    version,
					Logger:     a.logger,
				})
				log.Info("statecascade server started",
					slog.String("lock", cfg.LockPath()),
					slog.String("source_store", cfg.SourceStore),
					slog.String("target_store", cfg.TargetStore))

				err := srv.Serve(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}
