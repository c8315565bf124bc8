// Package monitor ties the feed, registry, tracker, and scheduler together
// into the running system: one feed-reading loop, one resolution-poll loop,
// and one window-rolling (or sweep) loop under a single errgroup.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polysweep/sweepmon/internal/domain"
	"github.com/polysweep/sweepmon/internal/feed"
	"github.com/polysweep/sweepmon/internal/registry"
	"github.com/polysweep/sweepmon/internal/scheduler"
	"github.com/polysweep/sweepmon/internal/tracker"
)

// Options holds the loop timings of the Monitor.
type Options struct {
	ResolutionPollInterval time.Duration
	SweepInterval          time.Duration // ad-hoc mode eviction cadence
}

// Monitor orchestrates the three concurrent loops over shared registry state.
type Monitor struct {
	opts   Options
	reg    *registry.Registry
	feed   *feed.Manager
	sched  *scheduler.Scheduler // nil in ad-hoc mode
	logger *slog.Logger
}

// New creates a Monitor. sched may be nil for ad-hoc monitoring of an
// explicit market list.
func New(opts Options, reg *registry.Registry, fm *feed.Manager, sched *scheduler.Scheduler, logger *slog.Logger) *Monitor {
	return &Monitor{
		opts:   opts,
		reg:    reg,
		feed:   fm,
		sched:  sched,
		logger: logger.With(slog.String("component", "monitor")),
	}
}

// NewHandler builds the feed message handler for the given components.
func NewHandler(reg *registry.Registry, tr *tracker.Tracker, sink registry.EventSink, logger *slog.Logger) feed.Handler {
	return newDispatcher(reg, tr, sink, logger)
}

// RunAdHoc monitors an explicit list of market slugs and returns once every
// one of them has resolved and been evicted, or ctx is cancelled. Returns
// ErrNoMarkets when not a single slug resolves at startup.
func (m *Monitor) RunAdHoc(ctx context.Context, slugs []string) error {
	for _, slug := range slugs {
		m.reg.AddMarket(ctx, domain.Market{Slug: slug})
	}
	if m.reg.Len() == 0 {
		return fmt.Errorf("monitor: %w: none of %d slugs resolved", domain.ErrNoMarkets, len(slugs))
	}

	m.logger.Info("ad-hoc monitoring started",
		slog.Int("requested", len(slugs)),
		slog.Int("tracked", m.reg.Len()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.feed.Run(gctx) })
	g.Go(func() error { return m.pollLoop(gctx) })
	g.Go(func() error { return m.sweepLoop(gctx, cancel) })
	return g.Wait()
}

// RunContinuous monitors rolling window markets until ctx is cancelled.
func (m *Monitor) RunContinuous(ctx context.Context) error {
	m.logger.Info("continuous monitoring started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.feed.Run(gctx) })
	g.Go(func() error { return m.pollLoop(gctx) })
	g.Go(func() error { return m.sched.Run(gctx) })
	return g.Wait()
}

// pollLoop re-queries market resolution on a fixed interval. Runs until ctx
// is cancelled; resolver failures are retried on the next tick.
func (m *Monitor) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.ResolutionPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.reg.PollResolution(ctx)
		}
	}
}

// sweepLoop evicts resolved markets past their grace period and stops the
// whole monitor once the registry is empty. Only used in ad-hoc mode; the
// scheduler owns eviction in continuous mode.
func (m *Monitor) sweepLoop(ctx context.Context, stop context.CancelFunc) error {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			for _, mkt := range m.reg.SweepRemovable(now) {
				m.feed.Unsubscribe(mkt.InstrumentIDs())
			}
			if m.reg.Len() == 0 {
				m.logger.Info("all markets removed, stopping")
				stop()
				return nil
			}
		}
	}
}
