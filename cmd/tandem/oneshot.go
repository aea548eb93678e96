package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tandem-ai/tandem/internal/config"
	"github.com/tandem-ai/tandem/internal/providers"
	"github.com/tandem-ai/tandem/internal/storage"
	"github.com/tandem-ai/tandem/internal/threads"
	"github.com/tandem-ai/tandem/internal/workflow"
)

// One-shot commands run a single tool invocation and exit. The process
// shares no memory with previous invocations: all continuity comes from
// the storage backend, which is exactly the point. ServerMode stays
// false, so no background sweep ever starts in these code paths.

// runChat performs one chat exchange and prints the response JSON.
func runChat(args []string) int {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	prompt := fs.String("prompt", "", "message to send (required)")
	continuationID := fs.String("continue", "", "continuation id of an existing conversation")
	fs.Parse(args)

	if strings.TrimSpace(*prompt) == "" {
		fmt.Fprintln(os.Stderr, "chat: -prompt is required")
		return exitFailure
	}

	ctx := context.Background()
	backend, cfg, code := openBackend(ctx)
	if code != exitOK {
		return code
	}
	defer backend.Close()

	store := threads.NewStore(backend, cfg.ConversationTTL)
	id := *continuationID
	if id == "" {
		newID, err := store.Create(ctx, "chat", nil)
		if err != nil {
			return fail("creating conversation", err)
		}
		id = newID
	}

	if err := store.AddTurn(ctx, id, "chat", "user", *prompt); err != nil {
		return chatExit(err)
	}
	thread, err := store.Get(ctx, id)
	if err != nil {
		return chatExit(err)
	}

	messages := make([]providers.Message, 0, len(thread.Turns))
	for _, turn := range thread.Turns {
		messages = append(messages, providers.Message{Role: turn.Role, Content: turn.Content})
	}
	var model providers.ModelCaller = providers.Canned{}
	reply, err := model.Call(ctx, messages)
	if err != nil {
		return fail("calling provider", err)
	}
	if err := store.AddTurn(ctx, id, "chat", "assistant", reply); err != nil {
		return chatExit(err)
	}

	printJSON(map[string]any{
		"continuation_id": id,
		"reply":           reply,
		"turn_count":      len(thread.Turns) + 1,
	})
	return exitOK
}

// runWorkflowStep submits one step of a planner or debug workflow.
func runWorkflowStep(toolName string, args []string) int {
	fs := flag.NewFlagSet(toolName, flag.ExitOnError)
	step := fs.String("step", "", "findings for this step (required)")
	sessionID := fs.String("session", "", "session id from a previous step")
	totalSteps := fs.Int("total", 0, "revised total step estimate")
	files := fs.String("files", "", "comma-separated paths examined")
	relevant := fs.String("relevant", "", "comma-separated paths confirmed relevant")
	confidence := fs.String("confidence", "", "exploring|low|medium|high|certain")
	done := fs.Bool("done", false, "conclude the workflow with this step")
	fs.Parse(args)

	if strings.TrimSpace(*step) == "" {
		fmt.Fprintf(os.Stderr, "%s: -step is required\n", toolName)
		return exitFailure
	}

	ctx := context.Background()
	backend, _, code := openBackend(ctx)
	if code != exitOK {
		return code
	}
	defer backend.Close()

	store := workflow.NewStore(backend)

	var session *workflow.Session
	var err error
	if *sessionID == "" {
		session, err = store.Start(ctx, toolName, *totalSteps, *step)
	} else {
		session, err = store.Continue(ctx, *sessionID, workflow.Delta{
			Findings:           *step,
			FilesChecked:       splitList(*files),
			RelevantFiles:      splitList(*relevant),
			Confidence:         workflow.Confidence(*confidence),
			TotalStepsEstimate: *totalSteps,
		})
	}
	switch {
	case errors.Is(err, workflow.ErrSessionNotFound):
		fmt.Fprintln(os.Stderr, "session expired — start a new workflow")
		return exitStateExpired
	case errors.Is(err, workflow.ErrSessionAlreadyComplete):
		fmt.Fprintln(os.Stderr, "session already complete — start a new workflow if more work remains")
		return exitFailure
	case err != nil:
		return fail("submitting step", err)
	}

	if *done {
		if err := store.Complete(ctx, session.SessionID); err != nil {
			return fail("completing session", err)
		}
		session.Status = workflow.StatusComplete
	}

	printJSON(session.Response())
	return exitOK
}

// openBackend resolves the configured backend for a one-shot run.
func openBackend(ctx context.Context) (storage.Backend, *config.Config, int) {
	cfg := config.Load()
	backend, err := storage.Select(ctx, cfg.SelectorConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: no storage backend available: %v\n", err)
		return nil, nil, exitFailure
	}
	return backend, cfg, exitOK
}

// chatExit maps thread-store errors to the CLI contract: expired state
// gets its own exit code and a one-line recovery hint, everything else
// is a generic failure.
func chatExit(err error) int {
	if errors.Is(err, threads.ErrThreadNotFound) {
		fmt.Fprintln(os.Stderr, "conversation expired — start a new conversation")
		return exitStateExpired
	}
	return fail("chat", err)
}

func fail(what string, err error) int {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", what, err)
	return exitFailure
}

// splitList parses a comma-separated flag value.
func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: encoding output: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
