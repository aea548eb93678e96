// Package providers defines the boundary to external model providers.
//
// The HTTP glue for each provider (Gemini, OpenAI, Anthropic, and the
// rest) lives behind the ModelCaller interface; the tools in this server
// only ever see the interface. The state engine does not care which
// provider produced a turn — it stores what it is given.
package providers

import (
	"context"
	"fmt"
	"strings"
)

// Message is one turn of context handed to a provider.
type Message struct {
	Role    string
	Content string
}

// ModelCaller is the minimal surface a provider integration implements.
// Call blocks for the round trip; implementations are expected to honor
// ctx cancellation and deadlines.
type ModelCaller interface {
	// Name identifies the provider in logs and responses.
	Name() string

	// Call sends the conversation so far and returns the model's reply.
	Call(ctx context.Context, messages []Message) (string, error)
}

// Canned is a deterministic ModelCaller used when no provider is
// configured, and by tests. It acknowledges the latest user message and
// reports how much context it received, which is enough to exercise the
// full threading path without a network.
type Canned struct{}

// Name implements ModelCaller.
func (Canned) Name() string { return "canned" }

// Call implements ModelCaller.
func (Canned) Call(_ context.Context, messages []Message) (string, error) {
	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = messages[i].Content
			break
		}
	}
	if strings.TrimSpace(last) == "" {
		return "", fmt.Errorf("providers: no user message to respond to")
	}
	return fmt.Sprintf("[canned reply to %q after %d prior turns]", last, len(messages)-1), nil
}
