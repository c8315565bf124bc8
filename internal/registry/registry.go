// Package registry owns the authoritative map of tracked markets, their
// lifecycle state, and the winning instrument once resolved.
//
// All three monitor loops touch the registry concurrently, so every compound
// update runs under one mutex. Resolver calls are network I/O and are never
// made while the lock is held.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/polysweep/sweepmon/internal/domain"
	"github.com/polysweep/sweepmon/internal/eventlog"
)

// winnerTolerance is how close to 1.0 an outcome price must be for that
// outcome to count as the winner.
const winnerTolerance = 0.01

// EventSink receives event rows for the durable log.
type EventSink interface {
	Append(rec domain.EventRecord) error
}

// InstrumentInfo is the dispatch gate's view of an instrument: enough to
// stamp outcome and winner context onto an event row.
type InstrumentInfo struct {
	Slug    string
	Label   string
	Outcome string
}

// Registry tracks market lifecycle: PENDING -> ACTIVE -> RESOLVED -> removed,
// with PENDING -> FAILED when metadata resolution fails.
type Registry struct {
	resolver domain.MetadataResolver
	cache    domain.MetaCache // optional, nil disables caching
	sink     EventSink
	grace    time.Duration
	loc      *time.Location
	logger   *slog.Logger

	mu        sync.Mutex
	markets   map[string]*domain.Market // by slug
	bySlugIns map[string]string         // instrument id -> slug
}

// New creates a Registry. cache may be nil.
func New(resolver domain.MetadataResolver, cache domain.MetaCache, sink EventSink, grace time.Duration, loc *time.Location, logger *slog.Logger) *Registry {
	return &Registry{
		resolver:  resolver,
		cache:     cache,
		sink:      sink,
		grace:     grace,
		loc:       loc,
		logger:    logger.With(slog.String("component", "registry")),
		markets:   make(map[string]*domain.Market),
		bySlugIns: make(map[string]string),
	}
}

// AddMarket resolves the market's instruments and, on success, tracks it in
// the ACTIVE state, emits a market_open event per instrument, and returns the
// instrument ids to subscribe. On failure it emits an error event and returns
// nil; it never returns an error. Adding an already-tracked slug is a no-op.
//
// m carries at least the Slug; the scheduler also fills Symbol, WindowStart,
// and WindowDuration for generated markets.
func (r *Registry) AddMarket(ctx context.Context, m domain.Market) []string {
	r.mu.Lock()
	if _, ok := r.markets[m.Slug]; ok {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	m.State = domain.MarketStatePending
	meta, err := r.resolveMeta(ctx, m.Slug)
	if err != nil {
		m.State = domain.MarketStateFailed
		r.logger.Warn("market resolution failed",
			slog.String("slug", m.Slug),
			slog.String("error", err.Error()))
		r.emitError(m.Slug, "resolution failed: "+err.Error())
		return nil
	}
	if len(meta.InstrumentIDs) == 0 {
		m.State = domain.MarketStateFailed
		r.logger.Warn("market has no instruments", slog.String("slug", m.Slug))
		r.emitError(m.Slug, "resolution returned no instruments")
		return nil
	}

	m.State = domain.MarketStateActive
	m.EndTime = meta.EndTime
	m.Instruments = make([]domain.Instrument, 0, len(meta.InstrumentIDs))
	for i, id := range meta.InstrumentIDs {
		outcome := ""
		if i < len(meta.Outcomes) {
			outcome = meta.Outcomes[i]
		}
		m.Instruments = append(m.Instruments, domain.Instrument{ID: id, Outcome: outcome})
	}

	r.mu.Lock()
	if _, ok := r.markets[m.Slug]; ok {
		// Lost the race to a concurrent add of the same slug.
		r.mu.Unlock()
		return nil
	}
	r.markets[m.Slug] = &m
	for _, inst := range m.Instruments {
		r.bySlugIns[inst.ID] = m.Slug
	}
	r.mu.Unlock()

	label := r.label(m.Slug)
	r.logger.Info("market open",
		slog.String("slug", m.Slug),
		slog.Int("instruments", len(m.Instruments)),
		slog.Time("end_time", m.EndTime))

	for _, inst := range m.Instruments {
		r.append(domain.EventRecord{
			MarketLabel:       label,
			Kind:              domain.EventMarketOpen,
			InstrumentID:      inst.ID,
			Outcome:           inst.Outcome,
			SinceTickChangeMS: -1,
		})
	}

	return m.InstrumentIDs()
}

// Gate returns instrument context for dispatch, and ok=false when the
// instrument is unknown or its owning market is not ACTIVE. Events for gated
// instruments are dropped so book noise after close never reaches the log.
func (r *Registry) Gate(instrumentID string) (InstrumentInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slug, ok := r.bySlugIns[instrumentID]
	if !ok {
		return InstrumentInfo{}, false
	}
	m := r.markets[slug]
	if m == nil || !m.Active() {
		return InstrumentInfo{}, false
	}

	info := InstrumentInfo{Slug: slug, Label: r.label(slug)}
	for _, inst := range m.Instruments {
		if inst.ID == instrumentID {
			info.Outcome = inst.Outcome
			break
		}
	}
	return info, true
}

// ActiveInstrumentIDs returns the current subscription set: the union of
// instrument ids across all ACTIVE markets.
func (r *Registry) ActiveInstrumentIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for _, m := range r.markets {
		if m.Active() {
			ids = append(ids, m.InstrumentIDs()...)
		}
	}
	return ids
}

// Tracked reports whether the slug is currently in the registry.
func (r *Registry) Tracked(slug string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.markets[slug]
	return ok
}

// Len returns the number of tracked markets in any state.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.markets)
}

// HasActive reports whether any market is currently ACTIVE.
func (r *Registry) HasActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.markets {
		if m.Active() {
			return true
		}
	}
	return false
}

// PollResolution re-queries the resolver for every ACTIVE market. Markets
// that have ended transition to RESOLVED, record their winning instrument
// when determinable, and emit one market_resolved event per instrument.
// Resolver errors leave state untouched and are retried on the next poll.
func (r *Registry) PollResolution(ctx context.Context) {
	r.mu.Lock()
	slugs := make([]string, 0, len(r.markets))
	for slug, m := range r.markets {
		if m.Active() {
			slugs = append(slugs, slug)
		}
	}
	r.mu.Unlock()

	for _, slug := range slugs {
		// Resolution status must be fresh; bypass the metadata cache.
		meta, err := r.resolver.Resolve(ctx, slug)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Warn("resolution poll failed",
				slog.String("slug", slug),
				slog.String("error", err.Error()))
			continue
		}
		if !meta.Ended {
			continue
		}
		r.markResolved(slug, meta)
	}
}

func (r *Registry) markResolved(slug string, meta domain.MarketMeta) {
	r.mu.Lock()
	m := r.markets[slug]
	if m == nil || !m.Active() {
		r.mu.Unlock()
		return
	}
	m.State = domain.MarketStateResolved
	m.ResolvedAt = time.Now().UTC()
	if !meta.EndTime.IsZero() {
		m.EndTime = meta.EndTime
	}
	m.WinnerID = winnerInstrument(m.Instruments, meta)
	instruments := append([]domain.Instrument(nil), m.Instruments...)
	winner := m.WinnerID
	r.mu.Unlock()

	if r.cache != nil {
		if err := r.cache.Invalidate(context.Background(), slug); err != nil {
			r.logger.Warn("cache invalidate failed",
				slog.String("slug", slug),
				slog.String("error", err.Error()))
		}
	}

	label := r.label(slug)
	r.logger.Info("market resolved",
		slog.String("slug", slug),
		slog.String("winner", winner))

	for _, inst := range instruments {
		r.append(domain.EventRecord{
			MarketLabel:       label,
			Kind:              domain.EventMarketResolved,
			InstrumentID:      inst.ID,
			IsWinning:         inst.ID == winner && winner != "",
			Outcome:           inst.Outcome,
			SinceTickChangeMS: -1,
			MarketResolved:    true,
		})
	}
}

// winnerInstrument maps the resolver's outcome prices to the instrument whose
// price is within tolerance of 1.0. Returns "" when no outcome qualifies,
// which a voided market can legitimately produce.
func winnerInstrument(instruments []domain.Instrument, meta domain.MarketMeta) string {
	for i, price := range meta.ResolvedPrices {
		if price >= 1.0-winnerTolerance && i < len(instruments) {
			return instruments[i].ID
		}
	}
	return ""
}

// SweepRemovable evicts RESOLVED markets whose end time plus the grace period
// has elapsed and returns them so the caller can unsubscribe their
// instruments. Markets with no known end time fall back to their resolution
// time as the grace anchor.
func (r *Registry) SweepRemovable(now time.Time) []domain.Market {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []domain.Market
	for slug, m := range r.markets {
		if m.State != domain.MarketStateResolved {
			continue
		}
		anchor := m.EndTime
		if anchor.IsZero() {
			anchor = m.ResolvedAt
		}
		if now.Before(anchor.Add(r.grace)) {
			continue
		}
		removed = append(removed, *m)
		for _, inst := range m.Instruments {
			delete(r.bySlugIns, inst.ID)
		}
		delete(r.markets, slug)
		r.logger.Info("market removed", slog.String("slug", slug))
	}
	return removed
}

// ReportDisconnect appends one error row per ACTIVE market so a stream outage
// is visible in the log next to the events it interrupted.
func (r *Registry) ReportDisconnect(msg string) {
	r.mu.Lock()
	slugs := make([]string, 0, len(r.markets))
	for slug, m := range r.markets {
		if m.Active() {
			slugs = append(slugs, slug)
		}
	}
	r.mu.Unlock()

	for _, slug := range slugs {
		r.emitError(slug, msg)
	}
}

// resolveMeta is the cache read-through used by AddMarket. Misses and cache
// errors fall back to the resolver; successful lookups are written back.
func (r *Registry) resolveMeta(ctx context.Context, slug string) (domain.MarketMeta, error) {
	if r.cache != nil {
		meta, err := r.cache.Get(ctx, slug)
		if err == nil {
			return meta, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("cache get failed",
				slog.String("slug", slug),
				slog.String("error", err.Error()))
		}
	}

	meta, err := r.resolver.Resolve(ctx, slug)
	if err != nil {
		return domain.MarketMeta{}, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, meta); err != nil {
			r.logger.Warn("cache set failed",
				slog.String("slug", slug),
				slog.String("error", err.Error()))
		}
	}
	return meta, nil
}

func (r *Registry) label(slug string) string {
	return eventlog.FormatMarketLabel(slug, 0, r.loc)
}

func (r *Registry) emitError(slug, msg string) {
	r.append(domain.EventRecord{
		MarketLabel:       r.label(slug),
		Kind:              domain.EventError,
		SinceTickChangeMS: -1,
		ErrorMessage:      msg,
	})
}

func (r *Registry) append(rec domain.EventRecord) {
	if err := r.sink.Append(rec); err != nil {
		r.logger.Error("event append failed", slog.String("error", err.Error()))
	}
}
