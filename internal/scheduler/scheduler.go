// Package scheduler keeps the registry populated with the currently-open and
// next upcoming time-windowed market per configured symbol, and retires
// windows that have fully ended.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/polysweep/sweepmon/internal/domain"
)

// Subscriber issues incremental subscription changes to the feed.
type Subscriber interface {
	Subscribe(ids []string)
	Unsubscribe(ids []string)
}

// MarketRegistry is the registry surface the scheduler drives.
type MarketRegistry interface {
	AddMarket(ctx context.Context, m domain.Market) []string
	SweepRemovable(now time.Time) []domain.Market
}

// Scheduler rolls market windows on a fixed interval.
type Scheduler struct {
	reg      MarketRegistry
	feed     Subscriber
	symbols  []string
	window   time.Duration
	interval time.Duration
	logger   *slog.Logger

	// requested window starts per symbol; guarantees a (symbol, window)
	// pair is added at most once even across failed resolutions.
	requested map[string]map[int64]struct{}
}

// New creates a Scheduler for the given symbols and window duration.
func New(reg MarketRegistry, feed Subscriber, symbols []string, window, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		reg:       reg,
		feed:      feed,
		symbols:   symbols,
		window:    window,
		interval:  interval,
		logger:    logger.With(slog.String("component", "scheduler")),
		requested: make(map[string]map[int64]struct{}),
	}
}

// Run rolls immediately, then on every interval tick until ctx is cancelled.
// Always returns nil; the scheduler has no fatal runtime errors.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Roll(ctx, time.Now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.Roll(ctx, now)
		}
	}
}

// Roll performs one scheduling pass: ensure the current and next window exist
// for every symbol, then evict resolved markets past their grace period and
// unsubscribe their instruments.
func (s *Scheduler) Roll(ctx context.Context, now time.Time) {
	starts := []time.Time{WindowStart(now, s.window), NextWindowStart(now, s.window)}

	for _, symbol := range s.symbols {
		for _, start := range starts {
			s.ensureWindow(ctx, symbol, start)
		}
		s.pruneRequested(symbol, starts[0])
	}

	for _, m := range s.reg.SweepRemovable(now) {
		ids := m.InstrumentIDs()
		s.feed.Unsubscribe(ids)
		s.logger.Info("window retired",
			slog.String("slug", m.Slug),
			slog.Int("instruments", len(ids)))
	}
}

func (s *Scheduler) ensureWindow(ctx context.Context, symbol string, start time.Time) {
	unix := start.Unix()
	seen, ok := s.requested[symbol]
	if !ok {
		seen = make(map[int64]struct{})
		s.requested[symbol] = seen
	}
	if _, done := seen[unix]; done {
		return
	}
	seen[unix] = struct{}{}

	slug, err := MarketSlug(symbol, start, s.window)
	if err != nil {
		// Symbols and durations are validated at startup; reaching this
		// means a config bug, not a runtime condition. Log and move on.
		s.logger.Error("slug build failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
		return
	}

	s.logger.Info("adding window market",
		slog.String("slug", slug),
		slog.Time("window_start", start))

	ids := s.reg.AddMarket(ctx, domain.Market{
		Slug:           slug,
		Symbol:         symbol,
		WindowStart:    start,
		WindowDuration: s.window,
	})
	if len(ids) > 0 {
		s.feed.Subscribe(ids)
	}
}

// pruneRequested drops bookkeeping for windows that ended long before the
// current one, keeping the requested-set bounded over long runs.
func (s *Scheduler) pruneRequested(symbol string, current time.Time) {
	cutoff := current.Add(-2 * s.window).Unix()
	for unix := range s.requested[symbol] {
		if unix < cutoff {
			delete(s.requested[symbol], unix)
		}
	}
}
