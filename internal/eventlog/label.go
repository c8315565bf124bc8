package eventlog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var cryptoPrefixes = []string{"btc", "eth", "sol", "xrp"}

// FormatMarketLabel renders a market slug as a human-readable label carrying
// the window start time in loc, e.g. "btc-15m-1707523200" becomes
// "btc-15min-up-or-down-16:00". Slugs without a recognized crypto prefix keep
// their own prefix: "some-market-1707523200" becomes "some-market-16:00".
//
// The time comes from the unix timestamp in the slug's last segment; when the
// slug carries none, tsMS (falling back to the current clock) is used.
func FormatMarketLabel(slug string, tsMS int64, loc *time.Location) string {
	parts := strings.Split(slug, "-")

	var unix int64
	if len(parts) >= 2 {
		if v, err := strconv.ParseInt(parts[len(parts)-1], 10, 64); err == nil {
			unix = v
		}
	}
	if unix == 0 {
		if tsMS > 0 {
			unix = tsMS / 1000
		} else {
			unix = time.Now().Unix()
		}
	}

	timeStr := time.Unix(unix, 0).In(loc).Format("15:04")

	lower := strings.ToLower(slug)
	for _, crypto := range cryptoPrefixes {
		if strings.HasPrefix(lower, crypto) {
			return fmt.Sprintf("%s-%s-up-or-down-%s", crypto, windowText(parts), timeStr)
		}
	}

	// Unknown prefix: drop the trailing timestamp segment and append the time.
	prefix := slug
	if n := len(parts); n >= 2 {
		if _, err := strconv.ParseInt(parts[n-1], 10, 64); err == nil {
			prefix = strings.Join(parts[:n-1], "-")
		}
	}
	return prefix + "-" + timeStr
}

// windowText extracts a window-duration segment like "15m" or "1h" from the
// slug parts and renders it as "15min" / "1h". Defaults to "15min".
func windowText(parts []string) string {
	for _, p := range parts {
		if len(p) < 2 {
			continue
		}
		num, unit := p[:len(p)-1], p[len(p)-1]
		if _, err := strconv.Atoi(num); err != nil {
			continue
		}
		switch unit {
		case 'm':
			return num + "min"
		case 'h':
			return num + "h"
		}
	}
	return "15min"
}
