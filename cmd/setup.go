package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/diyartec/calassist/internal/config"
	"github.com/diyartec/calassist/internal/logging"
	"github.com/diyartec/calassist/internal/store"
)

// loadConfig reads and validates the environment, printing load warnings to w.
func loadConfig(w io.Writer) (*config.Config, error) {
	cfg, err := config.Load()
	if cfg != nil {
		for _, warning := range cfg.Warnings {
			fmt.Fprintf(w, "warning: %s\n", warning)
		}
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the diagnostic logger. debug forces the debug level.
func newLogger(cfg *config.Config, debug bool) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if debug {
		level = slog.LevelDebug
	}
	logger := logging.New(os.Stderr, level, cfg.LogFormat)
	slog.SetDefault(logger)
	return logger, nil
}

// openStore connects the configured key-value backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, string, error) {
	s, backend, err := store.Open(ctx, store.Options{RedisURL: cfg.RedisURL, ValkeyURL: cfg.ValkeyURL})
	if err != nil {
		return nil, "", fmt.Errorf("failed to open session store: %w", err)
	}
	return s, backend, nil
}

func keyspace(cfg *config.Config) store.Keyspace {
	return store.Keyspace{Namespace: cfg.RedisNamespace}
}
