package polymarket

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/polysweep/sweepmon/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether a flag is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexStrings unmarshals a string list the Gamma API may encode three ways:
// a JSON array, a JSON-encoded string ("[\"a\",\"b\"]"), or a pipe/comma
// separated plain string.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(s), &list); err == nil {
		*f = list
		return nil
	}
	sep := ","
	if strings.Contains(s, "|") {
		sep = "|"
	}
	out := make([]string, 0, 2)
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*f = out
	return nil
}

// flexFloats unmarshals a float list with the same encoding variants as
// flexStrings; unparseable entries are dropped.
type flexFloats []float64

func (f *flexFloats) UnmarshalJSON(data []byte) error {
	var strs flexStrings
	if err := strs.UnmarshalJSON(data); err != nil {
		var nums []float64
		if err2 := json.Unmarshal(data, &nums); err2 == nil {
			*f = nums
			return nil
		}
		return err
	}
	out := make([]float64, 0, len(strs))
	for _, s := range strs {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			out = append(out, v)
		}
	}
	*f = out
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent represents an event as returned by the Polymarket Gamma API.
// An event groups one or more related markets.
type APIEvent struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Slug    string      `json:"slug"`
	Active  flexBool    `json:"active"`
	Closed  bool        `json:"closed"`
	EndDate string      `json:"endDate"`
	Markets []APIMarket `json:"markets"`
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID            string      `json:"id"`
	Question      string      `json:"question"`
	Slug          string      `json:"slug"`
	ClobTokenIDs  flexStrings `json:"clobTokenIds"`
	Outcomes      flexStrings `json:"outcomes"`
	OutcomePrices flexFloats  `json:"outcomePrices"`
	EndDate       string      `json:"endDate"`
	Active        flexBool    `json:"active"`
	Ended         flexBool    `json:"ended"`
	Closed        flexBool    `json:"closed"`
}

// ToMarketMeta converts an APIEvent's first market into a domain.MarketMeta.
// The Gamma API ties the binary market's instruments, outcome labels, and
// resolved outcome prices to the first market of the event.
func (e *APIEvent) ToMarketMeta(slug string) domain.MarketMeta {
	meta := domain.MarketMeta{Slug: slug}
	if len(e.Markets) == 0 {
		return meta
	}

	m := &e.Markets[0]
	meta.InstrumentIDs = []string(m.ClobTokenIDs)
	meta.Outcomes = []string(m.Outcomes)
	meta.ResolvedPrices = []float64(m.OutcomePrices)
	meta.Ended = bool(m.Ended) || bool(m.Closed)

	end := m.EndDate
	if end == "" {
		end = e.EndDate
	}
	if t, err := time.Parse(time.RFC3339, end); err == nil {
		meta.EndTime = t
	}

	return meta
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSCommand is the JSON payload sent to the CLOB websocket to subscribe or
// unsubscribe. The "assets_ids" field name is Polymarket's, not a typo.
type WSCommand struct {
	Type           string   `json:"type"` // "subscribe" or "unsubscribe"
	AssetIDs       []string `json:"assets_ids"`
	CustomFeatures bool     `json:"custom_feature_enabled"`
}

// WSEnvelope is the minimal outer shape used to route inbound frames.
type WSEnvelope struct {
	EventType string `json:"event_type"`
	Type      string `json:"type"`
	AssetID   string `json:"asset_id"`
}

// Kind returns the message kind, preferring event_type over type.
func (e *WSEnvelope) Kind() string {
	if e.EventType != "" {
		return e.EventType
	}
	return e.Type
}

// BookMessage represents a full orderbook snapshot delivered over websocket.
type BookMessage struct {
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level in the websocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// TickSizeChangeMessage represents a tick-size/precision change notification.
type TickSizeChangeMessage struct {
	AssetID     string `json:"asset_id"`
	Market      string `json:"market"`
	OldTickSize string `json:"old_tick_size"`
	NewTickSize string `json:"new_tick_size"`
	Timestamp   string `json:"timestamp"`
}

// --------------------------------------------------------------------------
// Conversion helpers: wire types -> domain types
// --------------------------------------------------------------------------

// BookToSnapshot converts a BookMessage to a domain.BookSnapshot. Bids are
// sorted descending and asks ascending before truncation to depth levels, so
// the snapshot always carries the best depth levels per side.
func BookToSnapshot(b *BookMessage, depth int) domain.BookSnapshot {
	snap := domain.BookSnapshot{
		InstrumentID: b.AssetID,
		TimestampMS:  parseTimestampMS(b.Timestamp),
		ReceivedAt:   time.Now().UTC(),
	}

	bids := parseLevels(b.Bids)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	asks := parseLevels(b.Asks)
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	if depth > 0 {
		if len(bids) > depth {
			bids = bids[:depth]
		}
		if len(asks) > depth {
			asks = asks[:depth]
		}
	}
	snap.Bids = bids
	snap.Asks = asks

	if len(bids) > 0 {
		snap.BestBid = strconv.FormatFloat(bids[0].Price, 'f', -1, 64)
	}
	if len(asks) > 0 {
		snap.BestAsk = strconv.FormatFloat(asks[0].Price, 'f', -1, 64)
	}

	return snap
}

// TickChangeToDomain converts a TickSizeChangeMessage to a domain.TickSizeChange.
func TickChangeToDomain(m *TickSizeChangeMessage) domain.TickSizeChange {
	return domain.TickSizeChange{
		InstrumentID: m.AssetID,
		OldTickSize:  m.OldTickSize,
		NewTickSize:  m.NewTickSize,
		TimestampMS:  parseTimestampMS(m.Timestamp),
	}
}

func parseLevels(in []WSPriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, lvl := range in {
		p, errP := strconv.ParseFloat(lvl.Price, 64)
		s, errS := strconv.ParseFloat(lvl.Size, 64)
		if errP != nil || errS != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// parseTimestampMS parses a feed timestamp (millisecond epoch as a string).
// Returns 0 when absent or unparseable; callers fall back to the local clock.
func parseTimestampMS(s string) int64 {
	if s == "" {
		return 0
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return ms
}
