package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// BackendKind is the closed set of selectable backends. Selection is a
// pure function of configuration — no runtime type inspection, no "auto"
// mode that changes its mind mid-run.
type BackendKind string

const (
	KindMemory BackendKind = "memory"
	KindFile   BackendKind = "file"
	KindRedis  BackendKind = "redis"
	KindSQLite BackendKind = "sqlite"
)

// ParseBackendKind validates a configured backend name.
func ParseBackendKind(s string) (BackendKind, error) {
	switch BackendKind(s) {
	case KindMemory, KindFile, KindRedis, KindSQLite:
		return BackendKind(s), nil
	}
	return "", fmt.Errorf("unknown storage backend %q: must be one of: memory, file, redis, sqlite", s)
}

// SelectorConfig holds everything needed to construct any backend kind.
type SelectorConfig struct {
	// Preferred is the backend the configuration asks for. If it fails
	// its health check at selection time, the chain falls back to file,
	// then memory.
	Preferred BackendKind

	// FileRoot is the directory for the file backend's documents.
	FileRoot string

	// SQLiteDir is the directory holding the sqlite database file.
	SQLiteDir string

	// Redis holds the remote backend's connection parameters.
	Redis RedisOptions

	// MemoryCleanupInterval enables the memory backend's background
	// sweep when non-zero. CLI entry points leave it zero.
	MemoryCleanupInterval time.Duration
}

// Select resolves configuration to one healthy backend, trying the
// preferred kind first and then falling back through file to memory.
//
// Selection happens exactly once, at process startup. A backend that
// fails its health check here is logged and never re-probed for the
// life of the process: flapping between backends mid-session would be
// worse than committing to a working one, and a later invocation picks
// up a recovered backend on its own startup.
func Select(ctx context.Context, cfg SelectorConfig) (Backend, error) {
	chain := []BackendKind{cfg.Preferred}
	if cfg.Preferred != KindFile {
		chain = append(chain, KindFile)
	}
	if cfg.Preferred != KindMemory {
		chain = append(chain, KindMemory)
	}

	var lastErr error
	for _, kind := range chain {
		backend, err := construct(kind, cfg)
		if err != nil {
			slog.Warn("storage backend failed to construct, falling back",
				"backend", kind, "error", err)
			lastErr = err
			continue
		}

		if h := backend.HealthCheck(ctx); !h.Healthy {
			slog.Warn("storage backend unhealthy, falling back",
				"backend", kind, "detail", h.Detail)
			backend.Close()
			lastErr = fmt.Errorf("%s backend unhealthy: %s", kind, h.Detail)
			continue
		}

		if kind != cfg.Preferred {
			slog.Warn("using fallback storage backend",
				"preferred", cfg.Preferred, "selected", kind)
		} else {
			slog.Info("storage backend selected", "backend", kind)
		}
		return backend, nil
	}

	return nil, fmt.Errorf("no storage backend available (last error: %w)", lastErr)
}

// construct builds the backend for a kind without probing it.
func construct(kind BackendKind, cfg SelectorConfig) (Backend, error) {
	switch kind {
	case KindMemory:
		return NewMemoryBackend(MemoryOptions{CleanupInterval: cfg.MemoryCleanupInterval}), nil
	case KindFile:
		return NewFileBackend(cfg.FileRoot)
	case KindRedis:
		return NewRedisBackend(cfg.Redis), nil
	case KindSQLite:
		return NewSQLiteBackend(cfg.SQLiteDir)
	}
	return nil, fmt.Errorf("unknown backend kind %q", kind)
}
