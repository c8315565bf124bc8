package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	rediscache "github.com/polysweep/sweepmon/internal/cache/redis"
	"github.com/polysweep/sweepmon/internal/config"
	"github.com/polysweep/sweepmon/internal/domain"
	"github.com/polysweep/sweepmon/internal/eventlog"
	"github.com/polysweep/sweepmon/internal/feed"
	"github.com/polysweep/sweepmon/internal/monitor"
	"github.com/polysweep/sweepmon/internal/platform/polymarket"
	"github.com/polysweep/sweepmon/internal/registry"
	"github.com/polysweep/sweepmon/internal/scheduler"
	"github.com/polysweep/sweepmon/internal/tracker"
)

// Dependencies bundles the wired components the modes operate on.
type Dependencies struct {
	Registry *registry.Registry
	Feed     *feed.Manager
	Monitor  *monitor.Monitor
	Sched    *scheduler.Scheduler // nil in multi mode
	Events   *eventlog.Logger
}

// Wire constructs all concrete components from the configuration and returns
// them with a cleanup function to be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	loc, err := displayLocation(cfg.Monitor.DisplayTimezone)
	if err != nil {
		return fail(err)
	}

	resolver := polymarket.NewGammaClient(cfg.Polymarket.GammaHost)

	var metaCache domain.MetaCache
	if cfg.Redis.Enabled {
		client, err := rediscache.Connect(ctx, rediscache.Options{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		closers = append(closers, func() { client.Close() })
		metaCache = rediscache.NewMetaCache(client, cfg.Redis.TTL.Duration)
		logger.Info("metadata cache enabled", slog.String("addr", cfg.Redis.Addr))
	}

	events, err := eventlog.New(cfg.Monitor.OutputFile, loc, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { events.Close() })

	reg := registry.New(resolver, metaCache, events, cfg.Monitor.GracePeriod.Duration, loc, logger)
	tr := tracker.New(cfg.Monitor.TargetPrice, cfg.Monitor.TickChangeWindow.Duration.Milliseconds())
	handler := monitor.NewHandler(reg, tr, events, logger)

	continuous := strings.EqualFold(cfg.Mode, "continuous")

	fm := feed.New(feed.Config{
		URL:              cfg.Polymarket.WsHost,
		ReconnectDelay:   cfg.Feed.ReconnectDelay.Duration,
		HandshakeTimeout: cfg.Feed.HandshakeTimeout.Duration,
		PingTimeout:      cfg.Feed.PingTimeout.Duration,
		Depth:            cfg.Monitor.Depth,
		// The rolling scheduler needs the feed alive across inactive gaps
		// between windows; an explicit market list ends when they do.
		StopWhenIdle: !continuous,
	}, reg, handler, logger)

	var sched *scheduler.Scheduler
	if continuous {
		for _, symbol := range cfg.Scheduler.Symbols {
			if !scheduler.Supported(symbol, cfg.Scheduler.WindowDuration.Duration) {
				return fail(fmt.Errorf("no recurring %s market exists for window %s",
					symbol, cfg.Scheduler.WindowDuration.Duration))
			}
		}
		sched = scheduler.New(reg, fm,
			cfg.Scheduler.Symbols,
			cfg.Scheduler.WindowDuration.Duration,
			cfg.Scheduler.RollInterval.Duration,
			logger)
	}

	mon := monitor.New(monitor.Options{
		ResolutionPollInterval: cfg.Monitor.ResolutionPollInterval.Duration,
		SweepInterval:          cfg.Scheduler.RollInterval.Duration,
	}, reg, fm, sched, logger)

	return &Dependencies{
		Registry: reg,
		Feed:     fm,
		Monitor:  mon,
		Sched:    sched,
		Events:   events,
	}, cleanup, nil
}
