package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/polysweep/sweepmon/internal/domain"
)

type fakeResolver struct {
	mu    sync.Mutex
	metas map[string]domain.MarketMeta
	errs  map[string]error
	calls int
}

func (f *fakeResolver) Resolve(_ context.Context, slug string) (domain.MarketMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[slug]; ok {
		return domain.MarketMeta{}, err
	}
	meta, ok := f.metas[slug]
	if !ok {
		return domain.MarketMeta{}, domain.ErrNotFound
	}
	return meta, nil
}

func (f *fakeResolver) set(slug string, meta domain.MarketMeta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metas == nil {
		f.metas = map[string]domain.MarketMeta{}
	}
	f.metas[slug] = meta
}

type recordingSink struct {
	mu      sync.Mutex
	records []domain.EventRecord
}

func (s *recordingSink) Append(rec domain.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) byKind(kind domain.EventKind) []domain.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.EventRecord
	for _, r := range s.records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func newTestRegistry(res domain.MetadataResolver, sink EventSink, grace time.Duration) *Registry {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(res, nil, sink, grace, time.UTC, logger)
}

func upDownMeta(end time.Time) domain.MarketMeta {
	return domain.MarketMeta{
		InstrumentIDs: []string{"tok-up", "tok-down"},
		Outcomes:      []string{"Up", "Down"},
		EndTime:       end,
	}
}

func TestAddMarketActivates(t *testing.T) {
	res := &fakeResolver{}
	end := time.Now().Add(15 * time.Minute).UTC()
	res.set("btc-15m-1700000000", upDownMeta(end))
	sink := &recordingSink{}
	reg := newTestRegistry(res, sink, time.Minute)

	ids := reg.AddMarket(context.Background(), domain.Market{Slug: "btc-15m-1700000000"})
	if len(ids) != 2 || ids[0] != "tok-up" || ids[1] != "tok-down" {
		t.Fatalf("instrument ids = %v", ids)
	}
	if !reg.Tracked("btc-15m-1700000000") {
		t.Error("market not tracked after add")
	}
	if !reg.HasActive() {
		t.Error("expected an active market")
	}

	opens := sink.byKind(domain.EventMarketOpen)
	if len(opens) != 2 {
		t.Fatalf("market_open events = %d, want 2", len(opens))
	}
	if opens[0].Outcome != "Up" || opens[1].Outcome != "Down" {
		t.Errorf("outcomes = %q/%q", opens[0].Outcome, opens[1].Outcome)
	}

	info, ok := reg.Gate("tok-up")
	if !ok {
		t.Fatal("gate rejected active instrument")
	}
	if info.Slug != "btc-15m-1700000000" || info.Outcome != "Up" {
		t.Errorf("gate info = %+v", info)
	}
}

func TestAddMarketFailureLogsAndExcludes(t *testing.T) {
	res := &fakeResolver{errs: map[string]error{"eth-15m-1": domain.ErrNotFound}}
	sink := &recordingSink{}
	reg := newTestRegistry(res, sink, time.Minute)

	ids := reg.AddMarket(context.Background(), domain.Market{Slug: "eth-15m-1"})
	if ids != nil {
		t.Fatalf("expected nil ids, got %v", ids)
	}
	if reg.Tracked("eth-15m-1") {
		t.Error("failed market should not be tracked")
	}
	if errs := sink.byKind(domain.EventError); len(errs) != 1 {
		t.Fatalf("error events = %d, want 1", len(errs))
	}
}

func TestAddMarketIdempotent(t *testing.T) {
	res := &fakeResolver{}
	res.set("btc-15m-1", upDownMeta(time.Now().Add(time.Hour)))
	sink := &recordingSink{}
	reg := newTestRegistry(res, sink, time.Minute)

	if ids := reg.AddMarket(context.Background(), domain.Market{Slug: "btc-15m-1"}); len(ids) != 2 {
		t.Fatalf("first add returned %v", ids)
	}
	if ids := reg.AddMarket(context.Background(), domain.Market{Slug: "btc-15m-1"}); ids != nil {
		t.Fatalf("second add returned %v, want nil", ids)
	}
	if opens := sink.byKind(domain.EventMarketOpen); len(opens) != 2 {
		t.Errorf("market_open events = %d, want 2 (no duplicates)", len(opens))
	}
}

func TestPollResolutionMarksWinnerAndGates(t *testing.T) {
	res := &fakeResolver{}
	end := time.Now().UTC()
	res.set("btc-15m-1", upDownMeta(end.Add(time.Minute)))
	sink := &recordingSink{}
	reg := newTestRegistry(res, sink, time.Minute)

	reg.AddMarket(context.Background(), domain.Market{Slug: "btc-15m-1"})

	// Not ended yet: nothing changes.
	reg.PollResolution(context.Background())
	if len(sink.byKind(domain.EventMarketResolved)) != 0 {
		t.Fatal("premature market_resolved event")
	}

	// Down wins with price 0.995 (within the 0.01 tolerance of 1.0).
	meta := upDownMeta(end)
	meta.Ended = true
	meta.ResolvedPrices = []float64{0.005, 0.995}
	res.set("btc-15m-1", meta)

	reg.PollResolution(context.Background())

	resolved := sink.byKind(domain.EventMarketResolved)
	if len(resolved) != 2 {
		t.Fatalf("market_resolved events = %d, want 2", len(resolved))
	}
	var winners int
	for _, r := range resolved {
		if !r.MarketResolved {
			t.Error("resolution row missing resolution flag")
		}
		if r.IsWinning {
			winners++
			if r.InstrumentID != "tok-down" {
				t.Errorf("winner = %q, want tok-down", r.InstrumentID)
			}
		}
	}
	if winners != 1 {
		t.Errorf("winning rows = %d, want 1", winners)
	}

	// Post-resolution feed events must be dropped by the gate.
	if _, ok := reg.Gate("tok-up"); ok {
		t.Error("gate passed instrument of a resolved market")
	}
	if reg.HasActive() {
		t.Error("resolved market still counted as active")
	}
}

func TestPollResolutionNoWinner(t *testing.T) {
	res := &fakeResolver{}
	res.set("btc-15m-1", upDownMeta(time.Now()))
	sink := &recordingSink{}
	reg := newTestRegistry(res, sink, time.Minute)
	reg.AddMarket(context.Background(), domain.Market{Slug: "btc-15m-1"})

	meta := upDownMeta(time.Now())
	meta.Ended = true
	meta.ResolvedPrices = []float64{0.5, 0.5} // voided market
	res.set("btc-15m-1", meta)

	reg.PollResolution(context.Background())

	for _, r := range sink.byKind(domain.EventMarketResolved) {
		if r.IsWinning {
			t.Errorf("no outcome should win, but %q flagged", r.InstrumentID)
		}
	}
}

func TestPollResolutionErrorRetries(t *testing.T) {
	res := &fakeResolver{}
	res.set("btc-15m-1", upDownMeta(time.Now().Add(time.Minute)))
	sink := &recordingSink{}
	reg := newTestRegistry(res, sink, time.Minute)
	reg.AddMarket(context.Background(), domain.Market{Slug: "btc-15m-1"})

	res.mu.Lock()
	res.errs = map[string]error{"btc-15m-1": errors.New("gamma 502")}
	res.mu.Unlock()

	reg.PollResolution(context.Background())

	// Error leaves the market ACTIVE for the next poll.
	if !reg.HasActive() {
		t.Fatal("resolver error must not change market state")
	}
	if _, ok := reg.Gate("tok-up"); !ok {
		t.Error("instrument gated after a transient resolver error")
	}
}

func TestSweepRemovableGraceBoundary(t *testing.T) {
	res := &fakeResolver{}
	end := time.Now().UTC().Add(-90 * time.Second)
	res.set("btc-15m-1", upDownMeta(end))
	sink := &recordingSink{}
	reg := newTestRegistry(res, sink, time.Minute)
	reg.AddMarket(context.Background(), domain.Market{Slug: "btc-15m-1"})

	meta := upDownMeta(end)
	meta.Ended = true
	meta.ResolvedPrices = []float64{1, 0}
	res.set("btc-15m-1", meta)
	reg.PollResolution(context.Background())

	// One second before end+grace: keep.
	if removed := reg.SweepRemovable(end.Add(time.Minute - time.Second)); len(removed) != 0 {
		t.Fatalf("swept %d markets before grace expiry", len(removed))
	}
	// One second after: evict.
	removed := reg.SweepRemovable(end.Add(time.Minute + time.Second))
	if len(removed) != 1 {
		t.Fatalf("swept %d markets, want 1", len(removed))
	}
	if removed[0].WinnerID != "tok-up" {
		t.Errorf("winner = %q", removed[0].WinnerID)
	}
	if reg.Tracked("btc-15m-1") {
		t.Error("market still tracked after sweep")
	}
	if reg.Len() != 0 {
		t.Errorf("registry len = %d", reg.Len())
	}
}

func TestReportDisconnectEmitsRowPerActiveMarket(t *testing.T) {
	res := &fakeResolver{}
	res.set("btc-15m-1", upDownMeta(time.Now().Add(time.Hour)))
	res.set("eth-15m-1", domain.MarketMeta{
		InstrumentIDs: []string{"tok-e1", "tok-e2"},
		Outcomes:      []string{"Up", "Down"},
		EndTime:       time.Now().Add(time.Hour),
	})
	sink := &recordingSink{}
	reg := newTestRegistry(res, sink, time.Minute)

	reg.AddMarket(context.Background(), domain.Market{Slug: "btc-15m-1"})
	reg.AddMarket(context.Background(), domain.Market{Slug: "eth-15m-1"})

	// One of the two resolves before the outage; only the live market gets a
	// gap row.
	meta := upDownMeta(time.Now())
	meta.Ended = true
	meta.ResolvedPrices = []float64{1, 0}
	res.set("btc-15m-1", meta)
	reg.PollResolution(context.Background())

	before := len(sink.byKind(domain.EventError))
	reg.ReportDisconnect("stream closed: read tcp: connection reset")

	errs := sink.byKind(domain.EventError)[before:]
	if len(errs) != 1 {
		t.Fatalf("disconnect error rows = %d, want 1 (active markets only)", len(errs))
	}
	if errs[0].ErrorMessage != "stream closed: read tcp: connection reset" {
		t.Errorf("message = %q", errs[0].ErrorMessage)
	}
	if errs[0].MarketLabel == "" {
		t.Error("disconnect row missing market label")
	}
}

func TestActiveInstrumentIDsUnion(t *testing.T) {
	res := &fakeResolver{}
	res.set("btc-15m-1", upDownMeta(time.Now().Add(time.Hour)))
	res.set("eth-15m-1", domain.MarketMeta{
		InstrumentIDs: []string{"tok-e1", "tok-e2"},
		Outcomes:      []string{"Up", "Down"},
		EndTime:       time.Now().Add(time.Hour),
	})
	sink := &recordingSink{}
	reg := newTestRegistry(res, sink, time.Minute)

	reg.AddMarket(context.Background(), domain.Market{Slug: "btc-15m-1"})
	reg.AddMarket(context.Background(), domain.Market{Slug: "eth-15m-1"})

	ids := reg.ActiveInstrumentIDs()
	if len(ids) != 4 {
		t.Fatalf("subscription set = %v, want 4 ids", ids)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	for _, want := range []string{"tok-up", "tok-down", "tok-e1", "tok-e2"} {
		if !seen[want] {
			t.Errorf("missing %q in subscription set", want)
		}
	}
}
