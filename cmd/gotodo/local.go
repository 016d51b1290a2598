package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/basket/gotodo/internal/audit"
	"github.com/basket/gotodo/internal/config"
	"github.com/basket/gotodo/internal/persistence"
)

// Subcommand output goes through these so tests can capture it.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// localEnv is what the offline subcommands need: the config and a store
// opened directly on the database file.
type localEnv struct {
	cfg    config.Config
	store  *persistence.Store
	logger *slog.Logger
}

func openLocal() (*localEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := audit.Init(cfg.HomeDir); err != nil {
		return nil, fmt.Errorf("audit init: %w", err)
	}
	// No bus: a running server learns about offline writes on its next read.
	store, err := persistence.Open(cfg.DBPath, nil)
	if err != nil {
		_ = audit.Close()
		return nil, fmt.Errorf("open %s: %w", cfg.DBPath, err)
	}
	audit.SetDB(store.DB())
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return &localEnv{cfg: cfg, store: store, logger: logger}, nil
}

func (e *localEnv) Close() {
	audit.SetDB(nil)
	_ = e.store.Close()
	_ = audit.Close()
}

func writeJSONOut(v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "encode json: %v\n", err)
		return 1
	}
	return 0
}
