// Tandem: AI development-task MCP server.
//
// Delegates chat, planning, and debugging workflows to AI model
// providers while preserving conversation and workflow state across
// invocations — whether it runs as a long-lived MCP server or as a
// series of independent one-shot CLI commands sharing a storage backend.
//
// Usage:
//
//	tandem serve              # Start MCP server (stdio transport)
//	tandem chat ...           # One-shot chat exchange
//	tandem planner ...        # Submit one planning step
//	tandem debug ...          # Submit one investigation step
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tandem-ai/tandem/internal/config"
	"github.com/tandem-ai/tandem/internal/logging"
	tandemserver "github.com/tandem-ai/tandem/internal/server"
	"github.com/tandem-ai/tandem/internal/updater"
)

// Exit codes for the CLI surface. State expiry gets its own code so
// calling scripts can tell "start over" apart from "something broke".
const (
	exitOK           = 0
	exitFailure      = 1
	exitStateExpired = 2
)

func main() {
	logging.Init()

	// Load .env if present; absence is fine.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitFailure)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitFailure)
		}
	case "chat":
		os.Exit(runChat(os.Args[2:]))
	case "planner", "debug":
		os.Exit(runWorkflowStep(os.Args[1], os.Args[2:]))
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitOK)
	case "--version", "-v", "version":
		fmt.Printf("tandem v%s\n", tandemserver.Version)
		os.Exit(exitOK)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(exitFailure)
	}
}

func runServe() error {
	cfg := config.Load()
	cfg.ServerMode = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, cleanup, err := tandemserver.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	go checkForUpdates(ctx)

	// Graceful shutdown on interrupt.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	return server.ServeStdio(s)
}

// checkForUpdates runs a non-blocking release check and logs a notice
// when a newer version exists. Best-effort: network failures are
// silently ignored, and stdout stays untouched for the MCP transport.
func checkForUpdates(ctx context.Context) {
	result := updater.CheckVersion(ctx, tandemserver.Version)
	if notice := result.Notice(); notice != "" {
		slog.Info("update available",
			"current", result.CurrentVersion,
			"latest", result.LatestVersion,
			"release", result.ReleaseURL,
		)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Tandem v%s — AI development-task MCP server

Usage:
  tandem serve                            Start the MCP server (stdio transport)
  tandem chat -prompt TEXT [-continue ID] One-shot chat exchange
  tandem planner -step TEXT [flags]       Submit one planning step
  tandem debug -step TEXT [flags]         Submit one investigation step

Workflow step flags:
  -session ID       Continue an existing session
  -total N          Revised total step estimate
  -files LIST       Comma-separated paths examined this step
  -relevant LIST    Comma-separated paths confirmed relevant
  -confidence LEVEL exploring|low|medium|high|certain
  -done             Conclude the workflow with this step

Exit codes:
  0  success
  1  failure
  2  conversation or session expired — start over

Configuration (environment):
  STORAGE_TYPE                file (default) | redis | memory | sqlite
  TANDEM_STORAGE_DIR          data directory (default ~/.tandem)
  REDIS_HOST / REDIS_PORT / REDIS_DB / REDIS_PASSWORD / REDIS_KEY_PREFIX
  CONVERSATION_TIMEOUT_HOURS  sliding conversation TTL (default 3)

MCP configuration:
  {
    "mcpServers": {
      "tandem": { "command": "tandem", "args": ["serve"] }
    }
  }
`, tandemserver.Version)
}
