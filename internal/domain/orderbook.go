package domain

import "time"

// Side identifies which side of the book a level belongs to.
type Side string

const (
	SideBid Side = "BID"
	SideAsk Side = "ASK"
)

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookSnapshot is a full snapshot of bids and asks for an instrument as
// delivered by the market feed. BestBid/BestAsk keep the feed's string form
// so the event log can render them verbatim ("" when the side is empty).
type BookSnapshot struct {
	InstrumentID string
	Bids         []PriceLevel
	Asks         []PriceLevel
	BestBid      string
	BestAsk      string
	TimestampMS  int64 // feed-supplied, 0 when the feed omitted it
	ReceivedAt   time.Time
}

// TickSizeChange is a tick-size/precision change notification for an instrument.
type TickSizeChange struct {
	InstrumentID string
	OldTickSize  string
	NewTickSize  string
	TimestampMS  int64
}

// LevelIncrease is a detected size increase at a monitored price level.
type LevelIncrease struct {
	InstrumentID string
	Side         Side
	Price        float64
	Size         float64
	Delta        float64
	BestBid      string
	BestAsk      string
	TimestampMS  int64
}
