// Package tracker detects size increases at near-resolution price levels.
//
// The tracker keeps the last-seen size per (instrument, price, side) and, for
// each new orderbook snapshot, emits one event per level whose size grew.
// State is never explicitly deleted; it is bounded by instrument churn since
// instruments live only as long as their short-lived market.
package tracker

import (
	"github.com/polysweep/sweepmon/internal/domain"
)

type levelKey struct {
	instrumentID string
	price        float64
	side         domain.Side
}

// Tracker is the per-process diff state. Not safe for concurrent use; it is
// owned by the feed-reading loop.
type Tracker struct {
	threshold float64
	lastSeen  map[levelKey]float64

	// last tick-size change per instrument, millisecond epoch
	lastTickChange map[string]int64
	tickWindowMS   int64
}

// New creates a Tracker that monitors price levels at or above threshold.
// tickWindowMS is the recency window for tick-size-change analysis.
func New(threshold float64, tickWindowMS int64) *Tracker {
	return &Tracker{
		threshold:      threshold,
		lastSeen:       make(map[levelKey]float64),
		lastTickChange: make(map[string]int64),
		tickWindowMS:   tickWindowMS,
	}
}

// Diff compares a snapshot against the retained per-level state and returns
// one LevelIncrease per qualifying level whose size grew. Levels below the
// threshold are ignored entirely and do not touch the state. The last-seen
// size is always updated, including on decreases that emit nothing, so the
// next comparison runs against the newest size.
func (t *Tracker) Diff(snap domain.BookSnapshot) []domain.LevelIncrease {
	var out []domain.LevelIncrease
	out = t.diffSide(out, snap, domain.SideBid, snap.Bids)
	out = t.diffSide(out, snap, domain.SideAsk, snap.Asks)
	return out
}

func (t *Tracker) diffSide(out []domain.LevelIncrease, snap domain.BookSnapshot, side domain.Side, levels []domain.PriceLevel) []domain.LevelIncrease {
	for _, lvl := range levels {
		if lvl.Price < t.threshold {
			continue
		}

		key := levelKey{instrumentID: snap.InstrumentID, price: lvl.Price, side: side}
		delta := lvl.Size - t.lastSeen[key]
		t.lastSeen[key] = lvl.Size

		if delta <= 0 {
			continue
		}
		out = append(out, domain.LevelIncrease{
			InstrumentID: snap.InstrumentID,
			Side:         side,
			Price:        lvl.Price,
			Size:         lvl.Size,
			Delta:        delta,
			BestBid:      snap.BestBid,
			BestAsk:      snap.BestAsk,
			TimestampMS:  snap.TimestampMS,
		})
	}
	return out
}

// NoteTickChange records a tick-size change for an instrument.
func (t *Tracker) NoteTickChange(instrumentID string, tsMS int64) {
	t.lastTickChange[instrumentID] = tsMS
}

// SinceTickChange returns the milliseconds elapsed at nowMS since the
// instrument's last tick-size change and whether that change falls within
// the recency window. Returns -1, false when no change has been seen.
func (t *Tracker) SinceTickChange(instrumentID string, nowMS int64) (int64, bool) {
	last, ok := t.lastTickChange[instrumentID]
	if !ok || last <= 0 {
		return -1, false
	}
	since := nowMS - last
	return since, since >= 0 && since < t.tickWindowMS
}
