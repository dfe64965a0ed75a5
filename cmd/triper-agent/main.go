package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/triper/triper/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML configuration file")
	keystorePath := flag.String("keystore", "", "Path to the encrypted wallet keystore")
	passphrase := flag.String("passphrase", "", "Keystore passphrase (TRIPER_PASSPHRASE env overrides)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")

	flag.Parse()

	var level slog.Level
	switch strings.ToLower(*logLevel) {
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

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg := config.DefaultAgentConfig()
	if *configPath != "" {
		loaded, err := config.LoadAgentConfig(*configPath)
		if err != nil {
			logger.Error("failed to load configuration", "error", err)
			os.Exit(1)
		}
		cfg = *loaded
	}
	if *keystorePath != "" {
		cfg.Storage.KeystorePath = config.ExpandPath(*keystorePath)
	}

	pass := *passphrase
	if env := os.Getenv("TRIPER_PASSPHRASE"); env != "" {
		pass = env
	}
	if pass == "" {
		logger.Error("keystore passphrase required (flag -passphrase or TRIPER_PASSPHRASE)")
		os.Exit(1)
	}

	paths := config.DefaultPaths()
	if err := paths.EnsureDirectories(); err != nil {
		logger.Error("failed to create directories", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	daemon, err := NewDaemon(ctx, &cfg, pass, logger)
	if err != nil {
		logger.Error("failed to create daemon", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	logger.Info("starting triper-agent daemon",
		"ledger", cfg.Ledger.Mode,
		"compute", cfg.Compute.Mode,
		"prefilter", cfg.Prefilter.Mode,
	)

	if err := daemon.Run(ctx, *configPath); err != nil && err != context.Canceled {
		logger.Error("daemon error", "error", err)
		os.Exit(1)
	}

	logger.Info("daemon stopped gracefully")
}
