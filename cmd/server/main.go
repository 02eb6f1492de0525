// Package main is the entry point for the wiki storage server.
//
// main stays minimal: load config, build a logger, hand both to the server
// package. All wiring lives in internal/server; all knobs in internal/config.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/sakif/wikistore/internal/config"
	"github.com/sakif/wikistore/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger isn't configured yet; a default one will do for this.
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
