// Package main is the entry point for the storefront session service.
//
// MAIN PACKAGE IN GO:
// main stays minimal. Its job is to:
// 1. Read configuration (config file + env vars)
// 2. Create the logger and make sure the data directory exists
// 3. Start the server
//
// All actual logic lives in imported packages (internal/server,
// internal/session, internal/backend, ...).
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/storefront/internal/config"
	"github.com/sakif/storefront/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// STOREFRONT_CONFIG optionally points at a YAML file; env vars such as
	// PORT, BACKEND_URL and DB_PATH override it.
	cfg, err := config.Load(os.Getenv("STOREFRONT_CONFIG"), os.Getenv)
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)

	// === 3. DATABASE DIRECTORY ===
	// os.MkdirAll is `mkdir -p`. An in-memory database needs no directory.
	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
