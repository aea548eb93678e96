package workflow

import (
	"encoding/json"
	"fmt"
)

// BuildContinuationDirective produces the verbatim next invocation the
// caller must issue to resume the session: the tool to call and the
// arguments to pass, as a JSON payload an orchestrating client can echo
// back without interpretation.
//
// The directive is computed fresh for every response rather than stored,
// so it can never drift from the session's actual id and step.
func BuildContinuationDirective(s *Session) string {
	args := map[string]any{
		"session_id": s.SessionID,
		"step":       fmt.Sprintf("<findings for step %d>", s.StepNumber+1),
	}
	payload, _ := json.Marshal(map[string]any{
		"tool":      s.ToolName,
		"arguments": args,
	})

	remaining := s.TotalStepsEstimate - s.StepNumber
	return fmt.Sprintf(
		"Call the %s tool again to submit step %d of ~%d (%d remaining): %s",
		s.ToolName, s.StepNumber+1, s.TotalStepsEstimate, remaining, payload,
	)
}
