package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// InvestigatePrompt handles the tandem-investigate MCP prompt.
// It instructs the AI to run a stepwise debug workflow on an issue.
type InvestigatePrompt struct{}

// NewInvestigatePrompt creates an InvestigatePrompt.
func NewInvestigatePrompt() *InvestigatePrompt {
	return &InvestigatePrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *InvestigatePrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("tandem-investigate",
		mcp.WithPromptDescription(
			"Investigate a bug or unexpected behavior with the debug workflow. "+
				"The assistant works in numbered steps, recording findings and "+
				"examined files after each one, so long investigations survive "+
				"across requests.",
		),
		mcp.WithArgument("issue",
			mcp.ArgumentDescription("Description of the bug or unexpected behavior"),
			mcp.RequiredArgument(),
		),
	)
}

// Handle processes the tandem-investigate prompt request.
func (p *InvestigatePrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	issue := ""
	if args := req.Params.Arguments; args != nil {
		issue = args["issue"]
	}
	if issue == "" {
		return nil, fmt.Errorf("issue is required")
	}

	return &mcp.GetPromptResult{
		Description: "Investigate an issue step by step",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I need help investigating this issue:\n\n%s\n\n"+
						"Please:\n"+
						"1. Call `debug` with your first hypothesis as the step, "+
						"without a session_id (this starts a new session)\n"+
						"2. Follow the continuation command in each response for the "+
						"next step, passing the session_id it gives you\n"+
						"3. Record every file you examine in files_checked and promote "+
						"confirmed culprits to relevant_files\n"+
						"4. Set next_step_required=false on your final step, then give "+
						"me the root cause and a suggested fix\n",
					issue,
				)),
			},
		},
	}, nil
}
