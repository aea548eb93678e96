package tools

import "github.com/tandem-ai/tandem/internal/workflow"

// NewPlannerTool creates the planner: a multi-step tool for breaking a
// task into an ordered plan, one step per invocation.
func NewPlannerTool(sessions *workflow.Store) *WorkflowTool {
	return newWorkflowTool("planner",
		"Build a plan step by step across multiple invocations. "+
			"Submit one planning step per call; the session accumulates every step. "+
			"Pass the session_id from the previous response to continue, and set "+
			"next_step_required=false when the plan is done.",
		sessions,
	)
}
