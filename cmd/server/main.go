// Potionwatch - Timeline-synchronized potion logistics dashboard
package main

import (
	"context"
	"os"

	"github.com/mbd888/potionwatch/internal/config"
	"github.com/mbd888/potionwatch/internal/logging"
	"github.com/mbd888/potionwatch/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bootstrap logger; replaced once the config says how to log
	logger := logging.New("info", "text")

	logger.Info("starting potionwatch",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	format := "text"
	if cfg.Env == "production" {
		format = "json"
	}
	logger = logging.New(cfg.LogLevel, format)

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"port", cfg.Port,
		"upstream_url", cfg.UpstreamURL,
	)

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
