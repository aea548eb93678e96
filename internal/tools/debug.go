package tools

import "github.com/tandem-ai/tandem/internal/workflow"

// NewDebugTool creates the debug tool: a multi-step root-cause
// investigation. Each invocation records what was examined and found;
// files_checked and relevant_files accumulate as sets across steps, and
// confidence tracks how close the investigation is to a diagnosis.
func NewDebugTool(sessions *workflow.Store) *WorkflowTool {
	return newWorkflowTool("debug",
		"Investigate a bug step by step across multiple invocations. "+
			"Report findings, files checked, and confidence on each call; the "+
			"session accumulates the evidence. Pass the session_id from the "+
			"previous response to continue, and set next_step_required=false "+
			"once the root cause is identified.",
		sessions,
	)
}
