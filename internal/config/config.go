// Package config loads server configuration from environment variables.
//
// The storage engine's whole configuration surface lives here: which
// backend to prefer, where the file and sqlite backends keep their data,
// how to reach Redis, and the conversation TTL. Everything has a working
// default so a bare `tandem serve` runs with file storage under the
// user's data directory.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tandem-ai/tandem/internal/storage"
)

// Defaults for the storage engine.
const (
	// DefaultConversationTTL is the sliding window for conversation
	// threads when CONVERSATION_TIMEOUT_HOURS is unset.
	DefaultConversationTTL = 3 * time.Hour
)

// Config holds all server configuration.
type Config struct {
	// StorageType is the preferred backend kind. The selector may still
	// fall back from it at startup if it is unhealthy.
	StorageType storage.BackendKind

	// StorageDir is the root directory for the file and sqlite backends.
	StorageDir string

	// Redis connection parameters for STORAGE_TYPE=redis.
	RedisHost      string
	RedisPort      int
	RedisDB        int
	RedisPassword  string
	RedisKeyPrefix string

	// ConversationTTL is the sliding window for conversation threads.
	ConversationTTL time.Duration

	// ServerMode distinguishes the long-running server entry point from
	// one-shot CLI invocations. It gates the memory backend's
	// background sweep: a process that exits after a single command
	// must not start janitor goroutines.
	ServerMode bool
}

// Load reads configuration from environment variables with defaults.
// An unrecognized STORAGE_TYPE falls back to the file backend rather
// than failing startup; the selector logs what it actually picked.
func Load() *Config {
	storageType, err := storage.ParseBackendKind(getEnv("STORAGE_TYPE", "file"))
	if err != nil {
		storageType = storage.KindFile
	}

	return &Config{
		StorageType:     storageType,
		StorageDir:      getEnv("TANDEM_STORAGE_DIR", defaultStorageDir()),
		RedisHost:       getEnv("REDIS_HOST", "localhost"),
		RedisPort:       getIntEnv("REDIS_PORT", 6379),
		RedisDB:         getIntEnv("REDIS_DB", 0),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisKeyPrefix:  getEnv("REDIS_KEY_PREFIX", "tandem:"),
		ConversationTTL: time.Duration(getIntEnv("CONVERSATION_TIMEOUT_HOURS", 3)) * time.Hour,
	}
}

// SelectorConfig translates the configuration into the storage
// selector's terms.
func (c *Config) SelectorConfig() storage.SelectorConfig {
	sc := storage.SelectorConfig{
		Preferred: c.StorageType,
		FileRoot:  filepath.Join(c.StorageDir, "state"),
		SQLiteDir: c.StorageDir,
		Redis: storage.RedisOptions{
			Host:      c.RedisHost,
			Port:      c.RedisPort,
			DB:        c.RedisDB,
			Password:  c.RedisPassword,
			KeyPrefix: c.RedisKeyPrefix,
		},
	}
	if c.ServerMode {
		sc.MemoryCleanupInterval = 10 * time.Minute
	}
	return sc
}

// defaultStorageDir is ~/.tandem, or a relative .tandem when the home
// directory cannot be resolved.
func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tandem"
	}
	return filepath.Join(home, ".tandem")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
