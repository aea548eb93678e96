// Package prompts implements MCP prompt handlers.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ResumePrompt handles the tandem-resume MCP prompt.
// It guides the AI to pick up an existing conversation thread.
type ResumePrompt struct{}

// NewResumePrompt creates a ResumePrompt.
func NewResumePrompt() *ResumePrompt {
	return &ResumePrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *ResumePrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("tandem-resume",
		mcp.WithPromptDescription(
			"Resume a previous conversation with the assistant. "+
				"Provide the continuation id from an earlier chat response "+
				"to continue where you left off, with full history restored.",
		),
		mcp.WithArgument("continuation_id",
			mcp.ArgumentDescription("Continuation id from a previous chat response"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("prompt",
			mcp.ArgumentDescription("The next thing you want to say"),
		),
	)
}

// Handle processes the tandem-resume prompt request.
func (p *ResumePrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	continuationID := ""
	if args := req.Params.Arguments; args != nil {
		continuationID = args["continuation_id"]
	}
	if continuationID == "" {
		return nil, fmt.Errorf("continuation_id is required")
	}

	prompt := "Summarize where we left off and suggest the next step."
	if args := req.Params.Arguments; args != nil {
		if p, ok := args["prompt"]; ok && p != "" {
			prompt = p
		}
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Resume conversation %s", continuationID),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want to resume an earlier conversation.\n\n"+
						"Please:\n"+
						"1. Call `chat` with continuation_id='%s' and prompt='%s'\n"+
						"2. If the tool reports the conversation expired, tell me so and "+
						"offer to start fresh with a summary of what I just asked\n",
					continuationID, prompt,
				)),
			},
		},
	}, nil
}
