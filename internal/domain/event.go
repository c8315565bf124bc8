package domain

// EventKind classifies a row in the unified event log.
type EventKind string

const (
	EventBid            EventKind = "bid"
	EventAsk            EventKind = "ask"
	EventTickSizeChange EventKind = "tick_size_change"
	EventMarketOpen     EventKind = "market_open"
	EventMarketResolved EventKind = "market_resolved"
	EventError          EventKind = "error"
)

// EventRecord is one immutable, append-only row of the unified event log.
// Optional numeric fields use pointers so the logger can render them empty
// when absent rather than as zero.
type EventRecord struct {
	MarketLabel string
	TimestampMS int64
	Kind        EventKind

	// Book-level fields, set for bid/ask events only.
	Price     *float64
	Size      *float64
	SizeDelta *float64
	Side      Side

	BestBid string
	BestAsk string

	InstrumentID string
	IsWinning    bool // valid only after the owning market resolved
	Outcome      string

	// Ticker-change analysis fields. SinceTickChangeMS is -1 when no
	// tick-size change has been seen for the instrument.
	SinceTickChangeMS   int64
	TickChangedRecently bool
	OldTickSize         string
	NewTickSize         string

	MarketResolved bool
	ErrorMessage   string
}
