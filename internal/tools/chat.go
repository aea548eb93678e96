package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tandem-ai/tandem/internal/logging"
	"github.com/tandem-ai/tandem/internal/providers"
	"github.com/tandem-ai/tandem/internal/threads"
)

// ChatTool handles the chat MCP tool: one model exchange per call, with
// the conversation threaded across calls by continuation id. Passing a
// continuation id minted by another tool is allowed; each turn records
// its author.
type ChatTool struct {
	threads *threads.Store
	model   providers.ModelCaller
}

// NewChatTool creates a ChatTool with the given thread store and model
// provider.
func NewChatTool(store *threads.Store, model providers.ModelCaller) *ChatTool {
	return &ChatTool{threads: store, model: model}
}

// chatResponse is the JSON payload returned to the calling client.
type chatResponse struct {
	ContinuationID string `json:"continuation_id"`
	Reply          string `json:"reply"`
	TurnCount      int    `json:"turn_count"`
	Provider       string `json:"provider"`
}

// Definition returns the MCP tool definition for registration.
func (t *ChatTool) Definition() mcp.Tool {
	return mcp.NewTool("chat",
		mcp.WithDescription(
			"Send a message to the model and get a reply. "+
				"Pass the continuation_id from a previous response to stay in the same "+
				"conversation; omit it to start a new one. The returned continuation_id "+
				"can also be passed to other tools to carry the conversation across tools.",
		),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("The message to send to the model."),
		),
		mcp.WithString("continuation_id",
			mcp.Description("Continuation id of an existing conversation. Omit to start fresh."),
		),
	)
}

// Handle processes the chat tool call.
func (t *ChatTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt := req.GetString("prompt", "")
	continuationID := req.GetString("continuation_id", "")

	if strings.TrimSpace(prompt) == "" {
		return mcp.NewToolResultError("'prompt' is required — provide the message to send"), nil
	}

	if continuationID == "" {
		id, err := t.threads.Create(ctx, "chat", nil)
		if err != nil {
			return nil, fmt.Errorf("creating conversation: %w", err)
		}
		continuationID = id
	}

	log := logging.WithTool("chat", continuationID)

	if err := t.threads.AddTurn(ctx, continuationID, "chat", "user", prompt); err != nil {
		if errors.Is(err, threads.ErrThreadNotFound) {
			return mcp.NewToolResultError(
				"conversation expired or not found — start a new one by omitting continuation_id"), nil
		}
		return nil, fmt.Errorf("recording user turn: %w", err)
	}

	thread, err := t.threads.Get(ctx, continuationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	messages := make([]providers.Message, 0, len(thread.Turns))
	for _, turn := range thread.Turns {
		messages = append(messages, providers.Message{Role: turn.Role, Content: turn.Content})
	}

	reply, err := t.model.Call(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("calling %s provider: %w", t.model.Name(), err)
	}

	if err := t.threads.AddTurn(ctx, continuationID, "chat", "assistant", reply); err != nil {
		return nil, fmt.Errorf("recording assistant turn: %w", err)
	}

	log.Debug("chat exchange complete", "turns", len(thread.Turns)+1)

	payload, err := json.Marshal(chatResponse{
		ContinuationID: continuationID,
		Reply:          reply,
		TurnCount:      len(thread.Turns) + 1,
		Provider:       t.model.Name(),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	return mcp.NewToolResultText(string(payload)), nil
}
