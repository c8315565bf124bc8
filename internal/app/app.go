// Package app provides the top-level application lifecycle for the sweep
// monitor. It wires the resolver, cache, event log, registry, tracker, feed,
// and scheduler together and starts the mode selected by configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polysweep/sweepmon/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger. Every log
// line of the run carries a fresh run id so overlapping restarts are
// distinguishable in aggregated logs.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg: cfg,
		logger: logger.With(
			slog.String("component", "app"),
			slog.String("run_id", uuid.NewString()),
		),
	}
}

// Run wires all dependencies, starts the configured mode, and blocks until
// monitoring completes or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting sweep monitor",
		slog.String("mode", a.cfg.Mode),
		slog.String("output", a.cfg.Monitor.OutputFile),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "multi":
		return a.MultiMode(ctx, deps)
	case "continuous":
		return a.ContinuousMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// displayLocation loads the configured display timezone. Validation has
// already checked the name, so failures here are programming errors.
func displayLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load display timezone %q: %w", name, err)
	}
	return loc, nil
}
