package domain

import "time"

// MarketState represents the lifecycle state of a tracked market.
type MarketState string

const (
	MarketStatePending  MarketState = "pending"
	MarketStateActive   MarketState = "active"
	MarketStateFailed   MarketState = "failed"
	MarketStateResolved MarketState = "resolved"
)

// Instrument is one tradable outcome of a binary market (e.g. "Up" vs "Down").
// Immutable once created; lives exactly as long as its owning market is tracked.
type Instrument struct {
	ID      string
	Outcome string // outcome label, e.g. "Up", "Down", "Yes", "No"
}

// Market is one binary-outcome, time-windowed trading instance identified by
// its slug. Continuous-mode markets also carry the symbol and window start
// they were generated from; ad-hoc markets leave those zero.
type Market struct {
	Slug           string
	Symbol         string
	WindowStart    time.Time
	WindowDuration time.Duration
	EndTime        time.Time
	State          MarketState
	Instruments    []Instrument
	WinnerID       string // instrument ID of the winning outcome, "" if undetermined
	ResolvedAt     time.Time
}

// Active reports whether the market is currently in the ACTIVE state.
func (m *Market) Active() bool {
	return m.State == MarketStateActive
}

// InstrumentIDs returns the IDs of all instruments belonging to this market.
func (m *Market) InstrumentIDs() []string {
	ids := make([]string, 0, len(m.Instruments))
	for _, inst := range m.Instruments {
		ids = append(ids, inst.ID)
	}
	return ids
}

// MarketMeta is the metadata resolver's view of a market: its tradable
// instrument IDs, outcome labels, end time, and resolution status.
type MarketMeta struct {
	Slug           string
	InstrumentIDs  []string
	Outcomes       []string
	EndTime        time.Time
	Ended          bool
	ResolvedPrices []float64 // outcome prices, ~1.0 marks the winner once resolved
}
