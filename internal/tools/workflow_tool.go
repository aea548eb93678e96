package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tandem-ai/tandem/internal/workflow"
)

// WorkflowTool is the shared implementation behind the multi-step tools.
// Each invocation is an independent process-visible step: the first call
// (no session_id) opens a session, every later call continues it, and a
// call with next_step_required=false concludes it. The session store
// does the heavy lifting; this type translates MCP arguments and renders
// the continuation contract.
type WorkflowTool struct {
	name        string
	description string
	sessions    *workflow.Store
}

// newWorkflowTool builds a multi-step tool around the session store.
func newWorkflowTool(name, description string, sessions *workflow.Store) *WorkflowTool {
	return &WorkflowTool{name: name, description: description, sessions: sessions}
}

// Definition returns the MCP tool definition for registration.
func (t *WorkflowTool) Definition() mcp.Tool {
	return mcp.NewTool(t.name,
		mcp.WithDescription(t.description),
		mcp.WithString("step",
			mcp.Required(),
			mcp.Description("Findings and reasoning for this step. Accumulated across the session."),
		),
		mcp.WithString("session_id",
			mcp.Description("Session id from a previous response. Omit on the first step."),
		),
		mcp.WithNumber("total_steps",
			mcp.Description("Estimated total number of steps. May be revised on any call."),
		),
		mcp.WithString("files_checked",
			mcp.Description("Comma-separated paths examined during this step."),
		),
		mcp.WithString("relevant_files",
			mcp.Description("Comma-separated paths confirmed relevant to the task."),
		),
		mcp.WithString("confidence",
			mcp.Description("Current confidence: exploring, low, medium, high, or certain."),
		),
		mcp.WithBoolean("next_step_required",
			mcp.Description("Set false on the final step to conclude the workflow."),
		),
	)
}

// Handle processes one step of the workflow.
func (t *WorkflowTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	step := req.GetString("step", "")
	sessionID := req.GetString("session_id", "")
	totalSteps := req.GetInt("total_steps", 0)
	nextRequired := req.GetBool("next_step_required", true)

	if strings.TrimSpace(step) == "" {
		return mcp.NewToolResultError("'step' is required — describe the findings for this step"), nil
	}

	var session *workflow.Session
	var err error
	if sessionID == "" {
		session, err = t.sessions.Start(ctx, t.name, totalSteps, step)
		if err != nil {
			return nil, fmt.Errorf("starting %s session: %w", t.name, err)
		}
	} else {
		session, err = t.sessions.Continue(ctx, sessionID, workflow.Delta{
			Findings:           step,
			FilesChecked:       splitList(req.GetString("files_checked", "")),
			RelevantFiles:      splitList(req.GetString("relevant_files", "")),
			Confidence:         workflow.Confidence(req.GetString("confidence", "")),
			TotalStepsEstimate: totalSteps,
		})
		switch {
		case errors.Is(err, workflow.ErrSessionNotFound):
			return mcp.NewToolResultError(
				"session expired or not found — start a new workflow by omitting session_id"), nil
		case errors.Is(err, workflow.ErrSessionAlreadyComplete):
			return mcp.NewToolResultError(
				"session already complete — this is a double continuation; start a new workflow if more work remains"), nil
		case err != nil:
			return nil, fmt.Errorf("continuing %s session: %w", t.name, err)
		}
	}

	if !nextRequired {
		if err := t.sessions.Complete(ctx, session.SessionID); err != nil {
			return nil, fmt.Errorf("completing %s session: %w", t.name, err)
		}
		session.Status = workflow.StatusComplete
	}

	payload, err := json.Marshal(session.Response())
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	return mcp.NewToolResultText(string(payload)), nil
}
