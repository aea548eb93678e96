package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// SQLiteBackend stores entries in a single-file SQLite database. Like the
// file backend it is durable across restarts, but read-modify-write runs
// inside an immediate transaction, so concurrent processes sharing the
// database file are serialized by SQLite itself rather than by advisory
// lock files. It must be selected explicitly (STORAGE_TYPE=sqlite); the
// fallback chain never reaches for it.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLiteBackend opens (and if needed creates) the database at
// dir/state.db with WAL mode and a busy timeout, and ensures the schema.
func NewSQLiteBackend(dir string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, unavailable(fmt.Errorf("sqlite: create data dir: %w", err))
	}

	dbPath := filepath.Join(dir, "state.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, unavailable(fmt.Errorf("sqlite: open database: %w", err))
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, unavailable(fmt.Errorf("sqlite: pragma %q: %w", p, err))
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS entries (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			created_at REAL NOT NULL,
			expires_at REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_entries_expires ON entries(expires_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, unavailable(fmt.Errorf("sqlite: schema: %w", err))
	}

	return &SQLiteBackend{db: db, path: dbPath}, nil
}

// Name implements Backend.
func (b *SQLiteBackend) Name() string { return "sqlite" }

// getEntry reads the row for key, lazily deleting it when expired.
// q is either the pooled handle or an open transaction.
func getEntry(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, key string) (Entry, error) {
	var entry Entry
	var created, expires float64
	err := q.QueryRowContext(ctx,
		`SELECT value, created_at, expires_at FROM entries WHERE key = ?`, key,
	).Scan(&entry.Value, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, unavailable(fmt.Errorf("sqlite: select %q: %w", key, err))
	}

	entry.CreatedAt = fromEpoch(created)
	entry.ExpiresAt = fromEpoch(expires)
	if entry.Expired(timeNow().UTC()) {
		if _, err := q.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
			return Entry{}, unavailable(fmt.Errorf("sqlite: expire %q: %w", key, err))
		}
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// Get implements Backend.
func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := getEntry(ctx, b.db, key)
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

// Set implements Backend.
func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := validateTTL(ttl); err != nil {
		return err
	}
	now := timeNow().UTC()
	_, err := b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries (key, value, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		key, value, toEpoch(now), toEpoch(now.Add(ttl)))
	if err != nil {
		return unavailable(fmt.Errorf("sqlite: set %q: %w", key, err))
	}
	return nil
}

// Delete implements Backend. Idempotent.
func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		return unavailable(fmt.Errorf("sqlite: delete %q: %w", key, err))
	}
	return nil
}

// Exists implements Backend.
func (b *SQLiteBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := getEntry(ctx, b.db, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Update implements Backend. The read-mutate-write runs inside a single
// transaction, so SQLite's own locking serializes concurrent updates of
// the same key across goroutines and processes alike.
func (b *SQLiteBackend) Update(ctx context.Context, key string, fn UpdateFunc) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(fmt.Errorf("sqlite: begin update %q: %w", key, err))
	}
	defer tx.Rollback()

	var cur []byte
	exists := true
	entry, err := getEntry(ctx, tx, key)
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
	created := now
	expires := now.Add(ttl)
	if ttl == KeepTTL {
		if !exists {
			return ErrInvalidTTL
		}
		created = entry.CreatedAt
		expires = entry.ExpiresAt
	} else {
		if err := validateTTL(ttl); err != nil {
			return err
		}
		if exists {
			created = entry.CreatedAt
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries (key, value, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		key, next, toEpoch(created), toEpoch(expires))
	if err != nil {
		return unavailable(fmt.Errorf("sqlite: update %q: %w", key, err))
	}

	if err := tx.Commit(); err != nil {
		return unavailable(fmt.Errorf("sqlite: commit update %q: %w", key, err))
	}
	return nil
}

// HealthCheck implements Backend with a trivial query.
func (b *SQLiteBackend) HealthCheck(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()

	var one int
	if err := b.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return Health{Healthy: false, Detail: fmt.Sprintf("probe query failed: %v", err)}
	}
	return Health{Healthy: true, Detail: "db " + b.path}
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
