package storage

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryBackend stores entries in a process-local TTL cache. It has no
// cross-process visibility: two CLI invocations using it see independent
// state, so it is only suitable for tests, ephemeral runs, and as the
// last resort of the fallback chain. It is documented as
// single-process-only and provides no cross-process serialization.
type MemoryBackend struct {
	cache *cache.Cache
	locks *keyLock
}

// MemoryOptions configures the memory backend.
type MemoryOptions struct {
	// CleanupInterval is the period of the background sweep that evicts
	// expired entries. Zero disables the sweep entirely: expired entries
	// are then filtered lazily on Get and only reclaimed on overwrite.
	//
	// CLI entry points must leave this at zero — a short-lived process
	// that exits after one command has no business starting a janitor
	// goroutine, and one has previously kept a process alive waiting
	// for its timer. Long-running server entry points turn it on.
	CleanupInterval time.Duration
}

// NewMemoryBackend creates an in-process backend.
func NewMemoryBackend(opts MemoryOptions) *MemoryBackend {
	return &MemoryBackend{
		cache: cache.New(cache.NoExpiration, opts.CleanupInterval),
		locks: newKeyLock(),
	}
}

// Name implements Backend.
func (b *MemoryBackend) Name() string { return "memory" }

// Get implements Backend. The underlying cache performs the lazy expiry
// check, so an entry past its deadline is reported absent even when the
// background sweep is disabled.
func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	v, found := b.cache.Get(key)
	if !found {
		return nil, ErrNotFound
	}
	entry := v.(Entry)
	return entry.Value, nil
}

// Set implements Backend.
func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := validateTTL(ttl); err != nil {
		return err
	}
	now := timeNow().UTC()
	b.cache.Set(key, Entry{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, ttl)
	return nil
}

// Delete implements Backend. Idempotent.
func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.cache.Delete(key)
	return nil
}

// Exists implements Backend.
func (b *MemoryBackend) Exists(_ context.Context, key string) (bool, error) {
	_, found := b.cache.Get(key)
	return found, nil
}

// Update implements Backend. The read-modify-write runs under a per-key
// mutex; updates of distinct keys do not contend.
func (b *MemoryBackend) Update(_ context.Context, key string, fn UpdateFunc) error {
	release := b.locks.acquire(key)
	defer release()

	var cur []byte
	var curEntry Entry
	v, found := b.cache.Get(key)
	if found {
		curEntry = v.(Entry)
		cur = curEntry.Value
	}

	next, ttl, err := fn(cur, found)
	if err != nil {
		return err
	}

	now := timeNow().UTC()
	if ttl == KeepTTL {
		if !found {
			// Nothing to inherit an expiry from.
			return ErrInvalidTTL
		}
		remaining := curEntry.ExpiresAt.Sub(now)
		if remaining <= 0 {
			return ErrNotFound
		}
		b.cache.Set(key, Entry{
			Value:     next,
			CreatedAt: curEntry.CreatedAt,
			ExpiresAt: curEntry.ExpiresAt,
		}, remaining)
		return nil
	}

	if err := validateTTL(ttl); err != nil {
		return err
	}
	created := now
	if found {
		created = curEntry.CreatedAt
	}
	b.cache.Set(key, Entry{
		Value:     next,
		CreatedAt: created,
		ExpiresAt: now.Add(ttl),
	}, ttl)
	return nil
}

// HealthCheck implements Backend. An in-process map is always reachable.
func (b *MemoryBackend) HealthCheck(_ context.Context) Health {
	return Health{Healthy: true, Detail: "in-process"}
}

// Close implements Backend. The cache's janitor goroutine (when enabled)
// is stopped by its own finalizer; there is nothing to release eagerly.
func (b *MemoryBackend) Close() error { return nil }
