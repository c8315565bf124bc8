// Command sweepmon monitors short-lived Polymarket up/down markets for
// near-resolution orderbook activity and appends every detected event to a
// unified CSV log. It loads configuration, validates it, sets up signal
// handling, and runs the configured monitoring mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/polysweep/sweepmon/internal/app"
	"github.com/polysweep/sweepmon/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override mode (multi|continuous)")
	output := flag.String("output", "", "override event log path")
	wsURL := flag.String("ws-url", "", "override websocket feed URL")
	slugs := flag.String("slugs", "", "override multi-mode market slugs (comma separated)")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Flag overrides beat both file and environment.
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *output != "" {
		cfg.Monitor.OutputFile = *output
	}
	if *wsURL != "" {
		cfg.Polymarket.WsHost = *wsURL
	}
	if *slugs != "" {
		cfg.Monitor.Slugs = splitSlugs(*slugs)
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Validate configuration. Config errors are the only fatal errors.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("sweep monitor starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("monitor shut down gracefully")
		} else {
			logger.Error("monitor exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("sweep monitor stopped")
}

func splitSlugs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
