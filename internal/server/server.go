// Package server wires all MCP components and creates the server instance.
//
// This is the composition root (DIP): it resolves configuration to a
// concrete storage backend, builds the stores on top of it, and injects
// them into the tools. No business logic lives here — only wiring.
package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/tandem-ai/tandem/internal/config"
	"github.com/tandem-ai/tandem/internal/prompts"
	"github.com/tandem-ai/tandem/internal/providers"
	"github.com/tandem-ai/tandem/internal/resources"
	"github.com/tandem-ai/tandem/internal/storage"
	"github.com/tandem-ai/tandem/internal/threads"
	"github.com/tandem-ai/tandem/internal/tools"
	"github.com/tandem-ai/tandem/internal/workflow"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server with all tools registered.
// This is the single place where dependencies are resolved: the storage
// backend is selected exactly once here, and every store shares that one
// instance for the life of the process. Nothing re-probes or swaps the
// backend mid-run.
//
// The returned cleanup function closes the backend and must be called
// on shutdown (typically via defer). It is always non-nil.
func New(ctx context.Context, cfg *config.Config) (*server.MCPServer, func(), error) {
	backend, err := storage.Select(ctx, cfg.SelectorConfig())
	if err != nil {
		return nil, noop, fmt.Errorf("selecting storage backend: %w", err)
	}
	cleanup := func() {
		if err := backend.Close(); err != nil {
			slog.Warn("closing storage backend", "error", err)
		}
	}

	threadStore := threads.NewStore(backend, cfg.ConversationTTL)
	sessionStore := workflow.NewStore(backend)

	// Providers are external collaborators wired at this boundary; the
	// canned caller keeps the threading path fully functional when none
	// is configured.
	var model providers.ModelCaller = providers.Canned{}

	s := server.NewMCPServer(
		"tandem",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	chatTool := tools.NewChatTool(threadStore, model)
	s.AddTool(chatTool.Definition(), chatTool.Handle)

	plannerTool := tools.NewPlannerTool(sessionStore)
	s.AddTool(plannerTool.Definition(), plannerTool.Handle)

	debugTool := tools.NewDebugTool(sessionStore)
	s.AddTool(debugTool.Definition(), debugTool.Handle)

	resumePrompt := prompts.NewResumePrompt()
	s.AddPrompt(resumePrompt.Definition(), resumePrompt.Handle)

	investigatePrompt := prompts.NewInvestigatePrompt()
	s.AddPrompt(investigatePrompt.Definition(), investigatePrompt.Handle)

	resourceHandler := resources.NewHandler(backend, Version)
	s.AddResource(resourceHandler.StatusResource(), resourceHandler.HandleStatus)

	return s, cleanup, nil
}

func serverInstructions() string {
	return "Tandem delegates development tasks to AI models while keeping " +
		"state across invocations. Conversations are threaded by " +
		"continuation_id: pass it back to stay in the same conversation, " +
		"across tools if useful. Multi-step tools (planner, debug) return a " +
		"session_id and a continuation_command describing the exact next " +
		"call; echo the session_id back until the workflow concludes."
}

func noop() {}
