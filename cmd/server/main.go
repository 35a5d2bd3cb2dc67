// Package main is the entry point for the collar-auth server.
//
// MAIN PACKAGE IN GO:
// Every Go program starts execution in the main() function of the "main" package.
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (env vars, parsed into config.Config)
// 2. Create dependencies (the logger; everything else is built by server.New)
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/service, etc.).
package main

import (
	"log/slog"
	"os"

	"github.com/sakif/collar-auth/internal/config"
	"github.com/sakif/collar-auth/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// config.Load parses the process environment and validates the result.
	// A misconfigured server refuses to start: a short JWT_SECRET or an
	// unconfirmed AUTH_SANDBOX is fatal here, not at the first request.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// LOG_LEVEL picks the minimum level. Validate already rejected bad
	// values, so the error is always nil here.
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// === 3. CREATE AND START THE SERVER ===
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
