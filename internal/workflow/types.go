// Package workflow manages multi-step workflow sessions: the persisted
// state that lets step N of an investigation be submitted as a fresh
// process invocation and still see everything steps 1..N-1 produced.
//
// Unlike conversation threads, a session's expiry is a fixed window from
// creation. A conversation window tracks liveness; a workflow window
// bounds total duration, so a workflow cannot keep itself alive forever
// by continuing.
//
// The package mirrors the layout of the rest of the server:
// - SRP: types, store, and the continuation directive in separate files
// - DIP: the store depends on the storage.Backend abstraction
package workflow

import (
	"fmt"
	"time"
)

// --- Status enum ---

// Status is the lifecycle state of a session.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
)

// --- Confidence enum ---

// Confidence grades how sure the tool is of its accumulated findings.
type Confidence string

const (
	ConfidenceExploring Confidence = "exploring"
	ConfidenceLow       Confidence = "low"
	ConfidenceMedium    Confidence = "medium"
	ConfidenceHigh      Confidence = "high"
	ConfidenceCertain   Confidence = "certain"
)

// validConfidences is the set of allowed confidence levels.
var validConfidences = map[Confidence]bool{
	ConfidenceExploring: true,
	ConfidenceLow:       true,
	ConfidenceMedium:    true,
	ConfidenceHigh:      true,
	ConfidenceCertain:   true,
}

// ValidateConfidence returns an error if the level is not recognized.
func ValidateConfidence(c Confidence) error {
	if !validConfidences[c] {
		return fmt.Errorf("invalid confidence %q: must be one of: exploring, low, medium, high, certain", c)
	}
	return nil
}

// --- Session ---

// Session is the persisted state of one multi-step workflow. SessionID
// is `{tool}_{unix_ts}_{rand}`: globally unique yet human-inspectable in
// logs and on disk.
type Session struct {
	SessionID          string     `json:"session_id"`
	ToolName           string     `json:"tool_name"`
	StepNumber         int        `json:"step_number"`
	TotalStepsEstimate int        `json:"total_steps_estimate"`
	Status             Status     `json:"status"`
	AccumulatedFindings string    `json:"accumulated_findings"`
	FilesChecked       []string   `json:"files_checked,omitempty"`
	RelevantFiles      []string   `json:"relevant_files,omitempty"`
	Confidence         Confidence `json:"confidence"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Delta is what one continuation contributes to a session. File lists
// are unioned into the session's sets; findings are appended.
type Delta struct {
	Findings      string
	FilesChecked  []string
	RelevantFiles []string
	Confidence    Confidence
	// TotalStepsEstimate revises the step estimate when > 0; workflows
	// routinely discover they need more (or fewer) steps mid-flight.
	TotalStepsEstimate int
}

// Response is the tool-facing contract emitted after every start or
// continuation, consumed by the calling client or orchestrator. The
// continuation command is computed fresh per response, never persisted,
// so it always reflects the current session id and step.
type Response struct {
	SessionID           string `json:"session_id"`
	StepNumber          int    `json:"step_number"`
	TotalSteps          int    `json:"total_steps"`
	Status              Status `json:"status"`
	ContinuationCommand string `json:"continuation_command,omitempty"`
	AccumulatedFindings string `json:"accumulated_findings"`
}

// Response builds the tool-facing view of the session.
func (s *Session) Response() Response {
	r := Response{
		SessionID:           s.SessionID,
		StepNumber:          s.StepNumber,
		TotalSteps:          s.TotalStepsEstimate,
		Status:              s.Status,
		AccumulatedFindings: s.AccumulatedFindings,
	}
	if s.Status == StatusInProgress {
		r.ContinuationCommand = BuildContinuationDirective(s)
	}
	return r
}

// union merges add into base preserving first-seen order and dropping
// duplicates. Set semantics without losing the inspection-friendly
// ordering of the underlying JSON.
func union(base, add []string) []string {
	seen := make(map[string]bool, len(base))
	out := base
	for _, v := range base {
		seen[v] = true
	}
	for _, v := range add {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
