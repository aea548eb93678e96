// Package threads manages multi-turn conversation threads on top of the
// storage layer.
//
// A thread is keyed by an opaque continuation id (a UUID minted once per
// logical conversation) and holds an append-only sequence of turns. Its
// expiry is a sliding window: every successful append pushes the deadline
// out to now + TTL, so an active conversation stays alive indefinitely
// and only a conversation idle for the full window expires. Threads are
// deliberately tool-agnostic — any tool may append to a thread another
// tool created; the store records authorship per turn instead of
// enforcing ownership.
package threads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tandem-ai/tandem/internal/storage"
)

// DefaultTTL is the sliding expiry window when none is configured.
const DefaultTTL = 3 * time.Hour

// keyPrefix namespaces thread entries in the shared backend.
const keyPrefix = "thread:"

// ErrThreadNotFound reports a continuation id that is absent or expired.
// It is an expected, user-facing condition ("start a new conversation"),
// distinct from storage.ErrBackendUnavailable, which means the lookup
// itself could not be performed.
var ErrThreadNotFound = errors.New("threads: thread not found or expired")

// Turn is one conversation turn. Tool records which tool authored the
// turn, which is what makes cross-tool threading auditable.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Tool      string    `json:"tool,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Thread is a full conversation thread. Turns are insertion-ordered and
// never reordered or edited in place; the only destructive operation is
// whole-thread expiry or deletion.
type Thread struct {
	ContinuationID string            `json:"continuation_id"`
	ToolName       string            `json:"tool_name"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	Turns          []Turn            `json:"turns"`
}

// Store persists conversation threads through a storage backend. All
// methods are safe for concurrent use; appends to the same thread are
// serialized by the backend's atomic Update.
type Store struct {
	backend storage.Backend
	ttl     time.Duration
}

// NewStore creates a thread store. A non-positive ttl falls back to
// DefaultTTL.
func NewStore(backend storage.Backend, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{backend: backend, ttl: ttl}
}

// TTL returns the configured sliding window.
func (s *Store) TTL() time.Duration { return s.ttl }

func key(continuationID string) string {
	return keyPrefix + continuationID
}

// Create allocates a fresh continuation id and persists an empty-turns
// thread with the default TTL.
func (s *Store) Create(ctx context.Context, toolName string, metadata map[string]string) (string, error) {
	id := uuid.NewString()
	thread := Thread{
		ContinuationID: id,
		ToolName:       toolName,
		Metadata:       metadata,
		CreatedAt:      timeNow().UTC(),
		Turns:          []Turn{},
	}

	data, err := json.Marshal(thread)
	if err != nil {
		return "", fmt.Errorf("encoding thread: %w", err)
	}
	if err := s.backend.Set(ctx, key(id), data, s.ttl); err != nil {
		return "", fmt.Errorf("persisting thread %s: %w", id, err)
	}
	return id, nil
}

// AddTurn appends one turn to the thread and resets the sliding TTL.
// Returns ErrThreadNotFound if the id is unknown or the thread expired.
// The read-append-write runs atomically in the backend, so concurrent
// appends from separate invocations interleave without losing turns.
func (s *Store) AddTurn(ctx context.Context, continuationID, toolName, role, content string) error {
	return s.backend.Update(ctx, key(continuationID), func(cur []byte, exists bool) ([]byte, time.Duration, error) {
		if !exists {
			return nil, 0, ErrThreadNotFound
		}

		thread, err := decode(continuationID, cur)
		if err != nil {
			return nil, 0, err
		}

		thread.Turns = append(thread.Turns, Turn{
			Role:      role,
			Content:   content,
			Tool:      toolName,
			Timestamp: timeNow().UTC(),
		})

		next, err := json.Marshal(thread)
		if err != nil {
			return nil, 0, fmt.Errorf("encoding thread %s: %w", continuationID, err)
		}
		return next, s.ttl, nil
	})
}

// Get returns the thread for a continuation id, or ErrThreadNotFound.
func (s *Store) Get(ctx context.Context, continuationID string) (*Thread, error) {
	data, err := s.backend.Get(ctx, key(continuationID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		// Backend failures stay backend failures. Reporting them as
		// "not found" would send whoever debugs this chasing TTLs.
		return nil, err
	}
	return decode(continuationID, data)
}

// Delete removes a thread outright, e.g. when the workflow that owned
// the conversation completes. Idempotent.
func (s *Store) Delete(ctx context.Context, continuationID string) error {
	return s.backend.Delete(ctx, key(continuationID))
}

// decode parses a stored thread. A payload that no longer parses is
// recovered as absent: one unreadable conversation must not take the
// caller down, and the warning leaves a trail for the operator.
func decode(continuationID string, data []byte) (*Thread, error) {
	var thread Thread
	if err := json.Unmarshal(data, &thread); err != nil {
		slog.Warn("discarding unparseable thread",
			"continuation_id", continuationID, "error", err)
		return nil, ErrThreadNotFound
	}
	return &thread, nil
}

// timeNow is a package-level var to allow test injection.
var timeNow = time.Now
