package scheduler

import (
	"fmt"
	"strconv"
	"time"
)

// slugBases maps a symbol to its market slug prefix per window duration.
var slugBases = map[string]map[time.Duration]string{
	"BTC": {5 * time.Minute: "btc-5m", 15 * time.Minute: "btc-15m", time.Hour: "btc-1h"},
	"ETH": {5 * time.Minute: "eth-5m", 15 * time.Minute: "eth-15m", time.Hour: "eth-1h"},
	"SOL": {5 * time.Minute: "sol-5m", 15 * time.Minute: "sol-15m", time.Hour: "sol-1h"},
	"XRP": {5 * time.Minute: "xrp-5m", 15 * time.Minute: "xrp-15m", time.Hour: "xrp-1h"},
}

// WindowStart returns the start of the window containing now: the unix epoch
// floored to a multiple of d.
func WindowStart(now time.Time, d time.Duration) time.Time {
	return now.UTC().Truncate(d)
}

// NextWindowStart returns the start of the window after the one containing now.
func NextWindowStart(now time.Time, d time.Duration) time.Time {
	return WindowStart(now, d).Add(d)
}

// MarketSlug builds the market slug for a symbol's window,
// e.g. ("BTC", 15m window starting at unix 1707523200) -> "btc-15m-1707523200".
func MarketSlug(symbol string, windowStart time.Time, d time.Duration) (string, error) {
	bases, ok := slugBases[symbol]
	if !ok {
		return "", fmt.Errorf("scheduler: unsupported symbol %q", symbol)
	}
	base, ok := bases[d]
	if !ok {
		return "", fmt.Errorf("scheduler: unsupported window duration %s for %s", d, symbol)
	}
	return base + "-" + strconv.FormatInt(windowStart.Unix(), 10), nil
}

// Supported reports whether the symbol/duration pair has a known slug base.
func Supported(symbol string, d time.Duration) bool {
	_, err := MarketSlug(symbol, time.Unix(0, 0), d)
	return err == nil
}
