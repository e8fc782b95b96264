package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/rendis/statecascade/internal/config"
	"github.com/rendis/statecascade/internal/identity"
	"github.com/rendis/statecascade/internal/logging"
)

type commandContext struct {
	configFlag   string
	logLevelFlag string
	jqFlag       string
	jsonFlag     bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	logFile    *os.File
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if lvl := strings.TrimSpace(c.logLevelFlag); lvl != "" {
			cfg.LogLevel = lvl
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// ensureLogger builds the process logger from the loaded config. A configured
// log file receives a JSON copy of every record.
func (c *commandContext) ensureLogger() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.logger = logging.Default()
			return
		}
		opts := logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr}
		if cfg.LogFile != "" {
			f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				fmt.Fprintf(os.Stderr, "open log file %s: %v\n", cfg.LogFile, err)
			} else {
				c.logFile = f
				opts.Extra = f
			}
		}
		c.logger = logging.New(opts)
		slog.SetDefault(c.logger)
	})
	return c.logger
}

// withApp opens the stores, starts the republish worker and runs fn. The
// worker is drained before the stores are closed.
func (c *commandContext) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	ctx := identity.WithActor(cmd.Context(), cfg.Actor)

	a, err := newApp(ctx, cfg, c.ensureLogger())
	if err != nil {
		return err
	}
	if err := a.startWorker(ctx); err != nil {
		_ = a.close(ctx)
		return err
	}

	runErr := fn(ctx, a)
	if err := a.close(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (c *commandContext) wantJSON() bool {
	return c.jsonFlag || strings.TrimSpace(c.jqFlag) != ""
}

func (c *commandContext) close() {
	if c.logFile != nil {
		_ = c.logFile.Close()
		c.logFile = nil
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
