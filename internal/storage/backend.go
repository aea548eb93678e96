// Package storage implements the key-value persistence layer behind the
// conversation and workflow stores.
//
// Four interchangeable backends implement the same contract: an in-process
// map (memory), one JSON document per key on disk (file), a Redis client
// (redis), and a single-file SQLite database (sqlite). Higher layers treat
// the stored value as opaque bytes; every entry carries an authoritative
// expiry timestamp and is never returned past it.
//
// The package follows the same design principles as the rest of the server:
// - SRP: contract, backends, and selection live in separate files
// - DIP: Backend is an interface; the stores depend on the abstraction
// - OCP: a new backend kind is a new file plus one selector case
package storage

import (
	"context"
	"time"
)

// KeepTTL, passed as the ttl from an UpdateFunc, preserves the entry's
// existing expiry instead of computing a new one. It matches the sentinel
// go-redis uses for the same purpose, so the redis backend can pass it
// straight through.
const KeepTTL = time.Duration(-1)

// Entry is the stored envelope for a single key. CreatedAt and ExpiresAt
// are tracked by the backend; ExpiresAt is authoritative — an entry past
// it must never be returned by Get.
type Entry struct {
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry at the given instant.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Health is the result of a backend health check. A check is side-effect
// free and never returns a Go error: an unreachable backend is reported as
// unhealthy with a human-readable detail.
type Health struct {
	Healthy bool
	Detail  string
}

// UpdateFunc transforms the current value of a key inside an atomic
// read-modify-write. cur is nil and exists is false when the key is absent
// or expired. The returned ttl sets the new expiry window; return KeepTTL
// to leave the existing expiry untouched. Returning an error aborts the
// update without writing; the error is propagated unchanged to the caller.
type UpdateFunc func(cur []byte, exists bool) (next []byte, ttl time.Duration, err error)

// Backend is the minimal key-value-with-TTL contract every storage backend
// implements.
//
// Failure semantics: an I/O failure (network, disk) is surfaced as
// ErrBackendUnavailable, never as "key absent". Callers must be able to
// distinguish "not found" from "backend down" — conflating the two turns
// infrastructure failures into silent data loss.
type Backend interface {
	// Name identifies the backend in logs and selection diagnostics.
	Name() string

	// Get returns the value stored at key, or ErrNotFound if the key is
	// absent or its entry has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set unconditionally overwrites key with value, expiring ttl from
	// now. A ttl <= 0 is rejected with ErrInvalidTTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key holds an unexpired entry.
	Exists(ctx context.Context, key string) (bool, error)

	// Update runs fn as an atomic read-modify-write on key. Concurrent
	// updates of the same key are serialized; updates of different keys
	// proceed in parallel. This is the only safe way to append to a
	// value that another caller may be appending to at the same time.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// HealthCheck probes the backend with a bounded, side-effect-free
	// check. Used by the selector at startup; not called mid-run.
	HealthCheck(ctx context.Context) Health

	// Close releases backend resources (connections, lock files).
	// Safe to call once after all other operations have completed.
	Close() error
}

// validateTTL rejects non-positive TTLs. Shared by all backends so the
// contract's "set with ttl <= 0 is rejected" invariant means the same
// thing everywhere.
func validateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}

// timeNow is a package-level var to allow test injection.
var timeNow = time.Now
