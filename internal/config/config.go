// Package config defines the top-level configuration for the sweep monitor
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SWEEPMON_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Feed       FeedConfig       `toml:"feed"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Redis      RedisConfig      `toml:"redis"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	GammaHost string `toml:"gamma_host"`
	WsHost    string `toml:"ws_host"`
}

// MonitorConfig holds event-detection and logging parameters.
type MonitorConfig struct {
	// Slugs is the explicit market list for "multi" mode.
	Slugs []string `toml:"slugs"`
	// OutputFile is the unified event log (CSV, append mode).
	OutputFile string `toml:"output_file"`
	// TargetPrice is the near-resolution price floor; book levels below it
	// are ignored by the diff tracker.
	TargetPrice float64 `toml:"target_price"`
	// Depth is how many top-of-book levels per side are evaluated.
	Depth int `toml:"depth"`
	// DisplayTimezone renders the HH:MM portion of market labels and the
	// local-time column of the event log.
	DisplayTimezone string `toml:"display_timezone"`
	// TickChangeWindow marks book events as "recent" relative to the last
	// tick-size change on the same instrument.
	TickChangeWindow duration `toml:"tick_change_window"`
	// ResolutionPollInterval is how often active markets are re-checked
	// against the metadata API.
	ResolutionPollInterval duration `toml:"resolution_poll_interval"`
	// GracePeriod is how long after a market's end time its instruments stay
	// subscribed, to catch late settlement messages.
	GracePeriod duration `toml:"grace_period"`
}

// FeedConfig holds websocket connection parameters.
type FeedConfig struct {
	ReconnectDelay   duration `toml:"reconnect_delay"`
	HandshakeTimeout duration `toml:"handshake_timeout"`
	PingTimeout      duration `toml:"ping_timeout"`
}

// SchedulerConfig holds rolling-window parameters for "continuous" mode.
type SchedulerConfig struct {
	// Symbols are the recurring markets to track (e.g. BTC, ETH, SOL, XRP).
	Symbols []string `toml:"symbols"`
	// WindowDuration is the fixed market window length.
	WindowDuration duration `toml:"window_duration"`
	// RollInterval is how often the current/next windows are recomputed.
	RollInterval duration `toml:"roll_interval"`
}

// RedisConfig holds parameters for the optional market-metadata cache.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	TTL        duration `toml:"ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost: "https://gamma-api.polymarket.com",
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		},
		Monitor: MonitorConfig{
			OutputFile:             "bids_0999.csv",
			TargetPrice:            0.99,
			Depth:                  5,
			DisplayTimezone:        "America/New_York",
			TickChangeWindow:       duration{5 * time.Second},
			ResolutionPollInterval: duration{60 * time.Second},
			GracePeriod:            duration{60 * time.Second},
		},
		Feed: FeedConfig{
			ReconnectDelay:   duration{5 * time.Second},
			HandshakeTimeout: duration{15 * time.Second},
			PingTimeout:      duration{60 * time.Second},
		},
		Scheduler: SchedulerConfig{
			Symbols:        []string{"BTC"},
			WindowDuration: duration{15 * time.Minute},
			RollInterval:   duration{30 * time.Second},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			TTL:        duration{5 * time.Minute},
		},
		Mode:     "continuous",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"multi":      true,
	"continuous": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// supportedWindows enumerates the window durations recurring markets exist for.
var supportedWindows = map[time.Duration]bool{
	5 * time.Minute:  true,
	15 * time.Minute: true,
	time.Hour:        true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. These are the only fatal
// errors in the system; everything at runtime is recovered and logged.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: multi, continuous)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}

	if c.Monitor.OutputFile == "" {
		errs = append(errs, "monitor: output_file must not be empty")
	}
	if c.Monitor.TargetPrice <= 0 || c.Monitor.TargetPrice > 1 {
		errs = append(errs, fmt.Sprintf("monitor: target_price must be in (0, 1], got %v", c.Monitor.TargetPrice))
	}
	if c.Monitor.Depth < 1 {
		errs = append(errs, "monitor: depth must be >= 1")
	}
	if c.Monitor.ResolutionPollInterval.Duration <= 0 {
		errs = append(errs, "monitor: resolution_poll_interval must be > 0")
	}
	if c.Monitor.GracePeriod.Duration < 0 {
		errs = append(errs, "monitor: grace_period must be >= 0")
	}
	if _, err := time.LoadLocation(c.Monitor.DisplayTimezone); err != nil {
		errs = append(errs, fmt.Sprintf("monitor: unknown display_timezone %q", c.Monitor.DisplayTimezone))
	}

	if c.Feed.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "feed: reconnect_delay must be > 0")
	}

	// The roll interval doubles as the eviction cadence in multi mode.
	if c.Scheduler.RollInterval.Duration <= 0 {
		errs = append(errs, "scheduler: roll_interval must be > 0")
	}

	switch strings.ToLower(c.Mode) {
	case "multi":
		if len(c.Monitor.Slugs) == 0 {
			errs = append(errs, "monitor: slugs must not be empty in multi mode")
		}
	case "continuous":
		if len(c.Scheduler.Symbols) == 0 {
			errs = append(errs, "scheduler: symbols must not be empty in continuous mode")
		}
		if !supportedWindows[c.Scheduler.WindowDuration.Duration] {
			errs = append(errs, fmt.Sprintf("scheduler: unsupported window_duration %s (valid: 5m, 15m, 1h)", c.Scheduler.WindowDuration.Duration))
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
