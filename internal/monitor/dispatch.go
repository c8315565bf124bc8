package monitor

import (
	"log/slog"
	"time"

	"github.com/polysweep/sweepmon/internal/domain"
	"github.com/polysweep/sweepmon/internal/registry"
	"github.com/polysweep/sweepmon/internal/tracker"
)

// dispatcher routes decoded feed messages through the lifecycle gate and the
// diff tracker into the event log. It runs only on the feed-reading
// goroutine, so the tracker needs no locking.
type dispatcher struct {
	reg     *registry.Registry
	tracker *tracker.Tracker
	sink    registry.EventSink
	logger  *slog.Logger
}

func newDispatcher(reg *registry.Registry, tr *tracker.Tracker, sink registry.EventSink, logger *slog.Logger) *dispatcher {
	return &dispatcher{
		reg:     reg,
		tracker: tr,
		sink:    sink,
		logger:  logger.With(slog.String("component", "dispatch")),
	}
}

// HandleBook diffs a book snapshot and appends one row per size increase.
// Snapshots for instruments whose market is not ACTIVE are dropped so book
// noise after a market closes never reaches the log.
func (d *dispatcher) HandleBook(snap domain.BookSnapshot) {
	info, ok := d.reg.Gate(snap.InstrumentID)
	if !ok {
		d.logger.Debug("snapshot for inactive market dropped",
			slog.String("instrument", snap.InstrumentID))
		return
	}

	for _, ev := range d.tracker.Diff(snap) {
		tsMS := ev.TimestampMS
		if tsMS == 0 {
			tsMS = time.Now().UnixMilli()
		}
		since, recent := d.tracker.SinceTickChange(ev.InstrumentID, tsMS)

		kind := domain.EventBid
		if ev.Side == domain.SideAsk {
			kind = domain.EventAsk
		}

		d.logger.Info("level increase",
			slog.String("market", info.Label),
			slog.String("side", string(ev.Side)),
			slog.Float64("price", ev.Price),
			slog.Float64("size", ev.Size),
			slog.Float64("delta", ev.Delta),
			slog.String("best_bid", ev.BestBid),
			slog.String("best_ask", ev.BestAsk))

		price, size, delta := ev.Price, ev.Size, ev.Delta
		d.append(domain.EventRecord{
			MarketLabel:         info.Label,
			TimestampMS:         tsMS,
			Kind:                kind,
			Price:               &price,
			Size:                &size,
			SizeDelta:           &delta,
			Side:                ev.Side,
			BestBid:             ev.BestBid,
			BestAsk:             ev.BestAsk,
			InstrumentID:        ev.InstrumentID,
			Outcome:             info.Outcome,
			SinceTickChangeMS:   since,
			TickChangedRecently: recent,
		})
	}
}

// HandleTickSizeChange records the change for recency analysis and appends a
// tick_size_change row.
func (d *dispatcher) HandleTickSizeChange(chg domain.TickSizeChange) {
	info, ok := d.reg.Gate(chg.InstrumentID)
	if !ok {
		return
	}

	tsMS := chg.TimestampMS
	if tsMS == 0 {
		tsMS = time.Now().UnixMilli()
	}
	// Distance to the previous change, before this one is recorded.
	since, recent := d.tracker.SinceTickChange(chg.InstrumentID, tsMS)
	d.tracker.NoteTickChange(chg.InstrumentID, tsMS)

	d.logger.Info("tick size change",
		slog.String("market", info.Label),
		slog.String("instrument", chg.InstrumentID),
		slog.String("old", chg.OldTickSize),
		slog.String("new", chg.NewTickSize))

	d.append(domain.EventRecord{
		MarketLabel:         info.Label,
		TimestampMS:         tsMS,
		Kind:                domain.EventTickSizeChange,
		InstrumentID:        chg.InstrumentID,
		Outcome:             info.Outcome,
		SinceTickChangeMS:   since,
		TickChangedRecently: recent,
		OldTickSize:         chg.OldTickSize,
		NewTickSize:         chg.NewTickSize,
	})
}

// HandleProtocolError appends an error row for a malformed structured payload.
func (d *dispatcher) HandleProtocolError(msg string) {
	d.logger.Warn("protocol error", slog.String("detail", msg))
	d.append(domain.EventRecord{
		Kind:              domain.EventError,
		SinceTickChangeMS: -1,
		ErrorMessage:      msg,
	})
}

// HandleDisconnect writes the coverage gap into the log: one error row per
// market that was being monitored when the stream dropped.
func (d *dispatcher) HandleDisconnect(reason string) {
	d.logger.Warn("feed disconnected", slog.String("reason", reason))
	d.reg.ReportDisconnect("websocket connection closed unexpectedly: " + reason)
}

func (d *dispatcher) append(rec domain.EventRecord) {
	if err := d.sink.Append(rec); err != nil {
		d.logger.Error("event append failed", slog.String("error", err.Error()))
	}
}
