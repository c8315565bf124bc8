package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SWEEPMON_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. A missing config file is
// not an error: defaults plus environment overrides still apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SWEEPMON_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This lets
// operators adjust deployments without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Polymarket.GammaHost, "SWEEPMON_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "SWEEPMON_WS_HOST")

	setStringSlice(&cfg.Monitor.Slugs, "SWEEPMON_SLUGS")
	setStr(&cfg.Monitor.OutputFile, "SWEEPMON_OUTPUT_FILE")
	setFloat64(&cfg.Monitor.TargetPrice, "SWEEPMON_TARGET_PRICE")
	setInt(&cfg.Monitor.Depth, "SWEEPMON_DEPTH")
	setStr(&cfg.Monitor.DisplayTimezone, "SWEEPMON_DISPLAY_TIMEZONE")
	setDuration(&cfg.Monitor.TickChangeWindow, "SWEEPMON_TICK_CHANGE_WINDOW")
	setDuration(&cfg.Monitor.ResolutionPollInterval, "SWEEPMON_RESOLUTION_POLL_INTERVAL")
	setDuration(&cfg.Monitor.GracePeriod, "SWEEPMON_GRACE_PERIOD")

	setDuration(&cfg.Feed.ReconnectDelay, "SWEEPMON_FEED_RECONNECT_DELAY")
	setDuration(&cfg.Feed.HandshakeTimeout, "SWEEPMON_FEED_HANDSHAKE_TIMEOUT")
	setDuration(&cfg.Feed.PingTimeout, "SWEEPMON_FEED_PING_TIMEOUT")

	setStringSlice(&cfg.Scheduler.Symbols, "SWEEPMON_SYMBOLS")
	setDuration(&cfg.Scheduler.WindowDuration, "SWEEPMON_WINDOW_DURATION")
	setDuration(&cfg.Scheduler.RollInterval, "SWEEPMON_ROLL_INTERVAL")

	setBool(&cfg.Redis.Enabled, "SWEEPMON_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SWEEPMON_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SWEEPMON_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SWEEPMON_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SWEEPMON_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SWEEPMON_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SWEEPMON_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.TTL, "SWEEPMON_REDIS_TTL")

	setStr(&cfg.Mode, "SWEEPMON_MODE")
	setStr(&cfg.LogLevel, "SWEEPMON_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
