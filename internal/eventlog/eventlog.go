// Package eventlog appends classified monitor events to a durable CSV log.
//
// The log is opened in append mode so restarts extend the same file; the
// header row is written only when the file is empty. Every record is flushed
// before Append returns, so a crash loses at most the in-flight row.
package eventlog

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/polysweep/sweepmon/internal/domain"
)

var header = []string{
	"market_label",
	"timestamp_ms",
	"timestamp_iso",
	"timestamp_local",
	"event_kind",
	"price",
	"size",
	"size_delta",
	"side",
	"best_bid",
	"best_ask",
	"instrument_id",
	"is_winning_instrument",
	"outcome_label",
	"time_since_ticker_change_ms",
	"ticker_changed_recently",
	"old_tick_size",
	"new_tick_size",
	"resolution_flag",
	"error_message",
}

// Logger writes EventRecords to a CSV file. Safe for concurrent use; the
// feed, resolution, and scheduler loops all append through one Logger.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	loc    *time.Location
	logger *slog.Logger
}

// New opens (or creates) the log file at path in append mode. Timestamps in
// the local-time column are rendered in loc.
func New(path string, loc *time.Location, logger *slog.Logger) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}

	l := &Logger{
		file:   f,
		writer: csv.NewWriter(f),
		loc:    loc,
		logger: logger.With(slog.String("component", "eventlog")),
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("eventlog: stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		l.writer.Write(header)
		l.writer.Flush()
		if err := l.writer.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("eventlog: write header: %w", err)
		}
	}

	l.logger.Info("event log initialized", slog.String("path", path))
	return l, nil
}

// Append writes one record and flushes it to disk. Absent optional fields
// render as empty cells; Append itself fails only on I/O errors.
func (l *Logger) Append(rec domain.EventRecord) error {
	ts := rec.TimestampMS
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	t := time.UnixMilli(ts)

	sinceTick := ""
	if rec.SinceTickChangeMS >= 0 {
		sinceTick = strconv.FormatInt(rec.SinceTickChangeMS, 10)
	}
	tickRecently := ""
	if rec.InstrumentID != "" {
		tickRecently = strconv.FormatBool(rec.TickChangedRecently)
	}
	winning := ""
	if rec.InstrumentID != "" {
		winning = strconv.FormatBool(rec.IsWinning)
	}

	row := []string{
		rec.MarketLabel,
		strconv.FormatInt(ts, 10),
		t.UTC().Format("2006-01-02 15:04:05"),
		t.In(l.loc).Format("2006-01-02 15:04:05"),
		string(rec.Kind),
		formatOptFloat(rec.Price),
		formatOptFloat(rec.Size),
		formatOptFloat(rec.SizeDelta),
		string(rec.Side),
		rec.BestBid,
		rec.BestAsk,
		rec.InstrumentID,
		winning,
		rec.Outcome,
		sinceTick,
		tickRecently,
		rec.OldTickSize,
		rec.NewTickSize,
		strconv.FormatBool(rec.MarketResolved),
		rec.ErrorMessage,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.writer.Write(row)
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		return fmt.Errorf("eventlog: append: %w", err)
	}
	return nil
}

// Close flushes pending rows and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		l.file.Close()
		return fmt.Errorf("eventlog: flush: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("eventlog: close: %w", err)
	}
	return nil
}

func formatOptFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
