package app

import (
	"context"
	"log/slog"
)

// MultiMode monitors the explicit market list from configuration and returns
// once every market has resolved and been evicted.
func (a *App) MultiMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting multi mode",
		slog.Int("markets", len(a.cfg.Monitor.Slugs)))
	return deps.Monitor.RunAdHoc(ctx, a.cfg.Monitor.Slugs)
}

// ContinuousMode monitors rolling window markets for the configured symbols
// until the context is cancelled.
func (a *App) ContinuousMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting continuous mode",
		slog.Any("symbols", a.cfg.Scheduler.Symbols),
		slog.Duration("window", a.cfg.Scheduler.WindowDuration.Duration))
	return deps.Monitor.RunContinuous(ctx)
}
