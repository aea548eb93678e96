// Package logging configures the global structured logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log
// aggregation; otherwise the human-readable text handler. Output always
// goes to stderr — the MCP stdio transport owns stdout, and a stray log
// line there corrupts the protocol stream.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithTool returns a logger with tool invocation context attached.
// Use this for all logging within a tool call.
func WithTool(toolName, continuationID string) *slog.Logger {
	return slog.With(
		"tool", toolName,
		"continuation_id", continuationID,
	)
}
