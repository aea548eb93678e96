package workflow

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tandem-ai/tandem/internal/storage"
)

const (
	// SessionTTL is the fixed expiry window for a workflow session,
	// counted from creation and never refreshed. A workflow that has
	// not concluded in three hours starts over.
	SessionTTL = 3 * time.Hour

	// tombstoneTTL is how long a completed session's marker lingers so
	// a late double-continuation gets the telling error instead of a
	// generic "not found". The marker is a few dozen bytes; the full
	// session state is dropped the moment the session completes.
	tombstoneTTL = 10 * time.Minute

	// keyPrefix namespaces session entries in the shared backend.
	keyPrefix = "workflow_session:"

	// idRandLen is the length of the random suffix in session ids.
	idRandLen = 6
)

// Sentinel errors. Both are expected conditions with distinct handling:
// an expired session means "start a new workflow", while continuing a
// completed session is a logic bug in the calling tool and must never be
// absorbed as a no-op.
var (
	ErrSessionNotFound        = errors.New("workflow: session expired or not found")
	ErrSessionAlreadyComplete = errors.New("workflow: session already complete")
)

// Store persists workflow sessions through a storage backend.
// Continuations of the same session are serialized by the backend's
// atomic Update; sessions never lose a step to a concurrent writer.
type Store struct {
	backend storage.Backend
}

// NewStore creates a workflow session store.
func NewStore(backend storage.Backend) *Store {
	return &Store{backend: backend}
}

func key(sessionID string) string {
	return keyPrefix + sessionID
}

// newSessionID builds `{tool}_{unix_ts}_{rand6}`. The timestamp keeps
// ids sortable and human-inspectable; the random suffix makes them
// unique even when one tool starts several sessions in a second.
func newSessionID(toolName string) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	buf := make([]byte, idRandLen)
	rand.Read(buf)
	for i := range buf {
		buf[i] = alphabet[int(buf[i])%len(alphabet)]
	}
	return fmt.Sprintf("%s_%d_%s", toolName, timeNow().Unix(), buf)
}

// Start creates a new in-progress session at step 1 with the fixed TTL.
// initialFindings, when non-empty, becomes the step-1 entry of the
// accumulated findings.
func (s *Store) Start(ctx context.Context, toolName string, totalStepsEstimate int, initialFindings string) (*Session, error) {
	if strings.TrimSpace(toolName) == "" {
		return nil, errors.New("workflow: tool name is required")
	}
	if totalStepsEstimate < 1 {
		totalStepsEstimate = 1
	}

	session := &Session{
		SessionID:           newSessionID(toolName),
		ToolName:            toolName,
		StepNumber:          1,
		TotalStepsEstimate:  totalStepsEstimate,
		Status:              StatusInProgress,
		AccumulatedFindings: initialFindings,
		Confidence:          ConfidenceExploring,
		CreatedAt:           timeNow().UTC(),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	if err := s.backend.Set(ctx, key(session.SessionID), data, SessionTTL); err != nil {
		return nil, fmt.Errorf("persisting session %s: %w", session.SessionID, err)
	}
	return session, nil
}

// Continue applies one step's delta to the session: findings appended,
// file sets unioned, step number incremented. The TTL is deliberately
// not refreshed — the window is fixed at creation.
//
// Returns ErrSessionNotFound for unknown or expired ids, and
// ErrSessionAlreadyComplete when the caller tries to continue past
// completion.
func (s *Store) Continue(ctx context.Context, sessionID string, delta Delta) (*Session, error) {
	if delta.Confidence != "" {
		if err := ValidateConfidence(delta.Confidence); err != nil {
			return nil, err
		}
	}

	var updated *Session
	err := s.backend.Update(ctx, key(sessionID), func(cur []byte, exists bool) ([]byte, time.Duration, error) {
		if !exists {
			return nil, 0, ErrSessionNotFound
		}

		session, err := decode(sessionID, cur)
		if err != nil {
			return nil, 0, err
		}
		if session.Status == StatusComplete {
			return nil, 0, ErrSessionAlreadyComplete
		}

		session.StepNumber++
		if delta.Findings != "" {
			if session.AccumulatedFindings != "" {
				session.AccumulatedFindings += "\n"
			}
			session.AccumulatedFindings += delta.Findings
		}
		session.FilesChecked = union(session.FilesChecked, delta.FilesChecked)
		session.RelevantFiles = union(session.RelevantFiles, delta.RelevantFiles)
		if delta.Confidence != "" {
			session.Confidence = delta.Confidence
		}
		if delta.TotalStepsEstimate > 0 {
			session.TotalStepsEstimate = delta.TotalStepsEstimate
		}
		// A revised estimate can never claim we are further along than
		// we already are.
		if session.TotalStepsEstimate < session.StepNumber {
			session.TotalStepsEstimate = session.StepNumber
		}

		next, err := json.Marshal(session)
		if err != nil {
			return nil, 0, fmt.Errorf("encoding session %s: %w", sessionID, err)
		}
		updated = session
		return next, storage.KeepTTL, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Complete transitions the session to complete and drops its
// accumulated state immediately, leaving only a short-lived completion
// marker behind (see tombstoneTTL). Storage stays bounded to sessions
// actually in progress; a completed workflow leaves no queryable trace
// beyond process logs once the marker lapses.
func (s *Store) Complete(ctx context.Context, sessionID string) error {
	return s.backend.Update(ctx, key(sessionID), func(cur []byte, exists bool) ([]byte, time.Duration, error) {
		if !exists {
			return nil, 0, ErrSessionNotFound
		}

		session, err := decode(sessionID, cur)
		if err != nil {
			return nil, 0, err
		}
		if session.Status == StatusComplete {
			return nil, 0, ErrSessionAlreadyComplete
		}

		tombstone, err := json.Marshal(&Session{
			SessionID: sessionID,
			ToolName:  session.ToolName,
			Status:    StatusComplete,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("encoding completion marker: %w", err)
		}
		return tombstone, tombstoneTTL, nil
	})
}

// Get returns an in-progress session, or ErrSessionNotFound. Completed
// sessions read as not found: completion is terminal and their state is
// gone.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.backend.Get(ctx, key(sessionID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		// Backend failures stay backend failures, never "not found".
		return nil, err
	}

	session, err := decode(sessionID, data)
	if err != nil {
		return nil, err
	}
	if session.Status == StatusComplete {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// decode parses a stored session, recovering an unparseable payload as
// absent after logging.
func decode(sessionID string, data []byte) (*Session, error) {
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		slog.Warn("discarding unparseable workflow session",
			"session_id", sessionID, "error", err)
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

// timeNow is a package-level var to allow test injection.
var timeNow = time.Now
