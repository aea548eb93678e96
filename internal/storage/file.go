package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// entryExt is the filename extension for stored entries.
	entryExt = ".json"
	// lockExt is the filename extension for per-key advisory lock files.
	lockExt = ".lock"
	// lockStaleAfter is how old a lock file must be before another
	// process may break it. A holder never keeps a lock anywhere near
	// this long; a lock this old belongs to a crashed process.
	lockStaleAfter = 10 * time.Second
	// lockRetryInterval is the poll interval while waiting for a
	// cross-process lock.
	lockRetryInterval = 25 * time.Millisecond
)

// FileBackend stores one JSON document per key under a root directory.
// It is durable across process restarts and is the default backend.
//
// Writes go through a temp-file-then-atomic-rename sequence so a reader
// never observes a partially written document. Read-modify-write (Update)
// holds both an in-process per-key mutex and a cross-process advisory
// lock file, which makes it safe for two independent CLI invocations to
// append to the same conversation concurrently.
type FileBackend struct {
	root  string
	locks *keyLock
}

// fileEnvelope is the on-disk document layout. Timestamps are fractional
// epoch seconds so the files stay trivially inspectable with standard
// tooling. JSON payloads are embedded verbatim under "value"; the rare
// non-JSON payload is carried base64-encoded under "value_b64" instead.
type fileEnvelope struct {
	Value     json.RawMessage `json:"value,omitempty"`
	ValueB64  []byte          `json:"value_b64,omitempty"`
	CreatedAt float64         `json:"created_at"`
	ExpiresAt float64         `json:"expires_at"`
}

// NewFileBackend creates a file backend rooted at dir, creating the
// directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, unavailable(fmt.Errorf("creating storage root: %w", err))
	}
	return &FileBackend{root: dir, locks: newKeyLock()}, nil
}

// Name implements Backend.
func (b *FileBackend) Name() string { return "file" }

// Root returns the storage root directory.
func (b *FileBackend) Root() string { return b.root }

// encodeKey maps a storage key to a safe filename. Letters, digits, and
// ".", "_", ":", "-" pass through; everything else (path separators
// included) becomes %XX. "%" itself is always encoded, which makes the
// mapping collision-free and traversal-proof.
func encodeKey(key string) string {
	var sb strings.Builder
	sb.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == ':', c == '-':
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, "%%%02X", c)
		}
	}
	return sb.String()
}

// entryPath returns the absolute path of the document for key.
func (b *FileBackend) entryPath(key string) string {
	return filepath.Join(b.root, encodeKey(key)+entryExt)
}

// lockPath returns the absolute path of the advisory lock file for key.
func (b *FileBackend) lockPath(key string) string {
	return filepath.Join(b.root, encodeKey(key)+lockExt)
}

func toEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromEpoch(f float64) time.Time {
	return time.Unix(0, int64(f*float64(time.Second))).UTC()
}

// readEntry loads and parses the document for key. A corrupt document is
// recovered locally: it is logged, removed, and reported as ErrNotFound,
// because one unreadable conversation must not take down its caller.
// Expired documents are removed on sight.
func (b *FileBackend) readEntry(key string) (Entry, error) {
	path := b.entryPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, unavailable(fmt.Errorf("reading %s: %w", path, err))
	}

	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("discarding corrupt storage entry",
			"backend", "file", "key", key, "path", path, "error", err)
		_ = os.Remove(path)
		return Entry{}, ErrNotFound
	}

	entry := Entry{
		CreatedAt: fromEpoch(env.CreatedAt),
		ExpiresAt: fromEpoch(env.ExpiresAt),
	}
	if env.ValueB64 != nil {
		entry.Value = env.ValueB64
	} else {
		entry.Value = []byte(env.Value)
	}

	if entry.Expired(timeNow().UTC()) {
		_ = os.Remove(path)
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// writeEntry serializes the entry to a temp file in the same directory
// and atomically renames it over the target.
func (b *FileBackend) writeEntry(key string, entry Entry) error {
	env := fileEnvelope{
		CreatedAt: toEpoch(entry.CreatedAt),
		ExpiresAt: toEpoch(entry.ExpiresAt),
	}
	if json.Valid(entry.Value) {
		env.Value = json.RawMessage(entry.Value)
	} else {
		env.ValueB64 = entry.Value
	}

	data, err := json.Marshal(env)
	if err != nil {
		return unavailable(fmt.Errorf("encoding entry for %q: %w", key, err))
	}

	tmp, err := os.CreateTemp(b.root, ".tmp-*")
	if err != nil {
		return unavailable(fmt.Errorf("creating temp file: %w", err))
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return unavailable(fmt.Errorf("writing temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return unavailable(fmt.Errorf("closing temp file: %w", err))
	}

	if err := os.Rename(tmpName, b.entryPath(key)); err != nil {
		os.Remove(tmpName)
		return unavailable(fmt.Errorf("renaming into place: %w", err))
	}
	return nil
}

// Get implements Backend.
func (b *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	entry, err := b.readEntry(key)
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

// Set implements Backend.
func (b *FileBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := validateTTL(ttl); err != nil {
		return err
	}
	now := timeNow().UTC()
	return b.writeEntry(key, Entry{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	})
}

// Delete implements Backend. Idempotent.
func (b *FileBackend) Delete(_ context.Context, key string) error {
	err := os.Remove(b.entryPath(key))
	if err != nil && !os.IsNotExist(err) {
		return unavailable(fmt.Errorf("deleting entry for %q: %w", key, err))
	}
	return nil
}

// Exists implements Backend.
func (b *FileBackend) Exists(_ context.Context, key string) (bool, error) {
	_, err := b.readEntry(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Update implements Backend. It holds the in-process per-key mutex and
// the cross-process lock file for the full read-mutate-write sequence;
// the write itself still goes through the atomic rename path, so lock
// breakage by another process can never expose a torn document.
func (b *FileBackend) Update(ctx context.Context, key string, fn UpdateFunc) error {
	release := b.locks.acquire(key)
	defer release()

	unlock, err := b.lockFile(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	var cur []byte
	exists := true
	entry, err := b.readEntry(key)
	switch {
	case errors.Is(err, ErrNotFound):
		exists = false
	case err != nil:
		return err
	default:
		cur = entry.Value
	}

	next, ttl, err := fn(cur, exists)
	if err != nil {
		return err
	}

	now := timeNow().UTC()
	if ttl == KeepTTL {
		if !exists {
			return ErrInvalidTTL
		}
		entry.Value = next
		return b.writeEntry(key, entry)
	}

	if err := validateTTL(ttl); err != nil {
		return err
	}
	created := now
	if exists {
		created = entry.CreatedAt
	}
	return b.writeEntry(key, Entry{
		Value:     next,
		CreatedAt: created,
		ExpiresAt: now.Add(ttl),
	})
}

// lockFile acquires the cross-process advisory lock for key by creating
// the lock file exclusively. It polls until acquisition, context
// cancellation, or stale-lock takeover.
func (b *FileBackend) lockFile(ctx context.Context, key string) (unlock func(), err error) {
	path := b.lockPath(key)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, unavailable(fmt.Errorf("creating lock file: %w", err))
		}

		// Lock held by someone else. Break it if its holder is long gone.
		if info, statErr := os.Stat(path); statErr == nil {
			if timeNow().Sub(info.ModTime()) > lockStaleAfter {
				slog.Warn("breaking stale storage lock",
					"backend", "file", "key", key, "age", timeNow().Sub(info.ModTime()))
				_ = os.Remove(path)
				continue
			}
		}

		select {
		case <-ctx.Done():
			return nil, unavailable(fmt.Errorf("waiting for lock on %q: %w", key, ctx.Err()))
		case <-time.After(lockRetryInterval):
		}
	}
}

// HealthCheck implements Backend. It verifies the root directory is
// writable by creating and removing a probe file.
func (b *FileBackend) HealthCheck(_ context.Context) Health {
	probe, err := os.CreateTemp(b.root, ".health-*")
	if err != nil {
		return Health{Healthy: false, Detail: fmt.Sprintf("storage root not writable: %v", err)}
	}
	probe.Close()
	os.Remove(probe.Name())
	return Health{Healthy: true, Detail: "root " + b.root}
}

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }
