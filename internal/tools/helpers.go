// Package tools implements the MCP tool handlers: chat (conversation
// threading) and the multi-step workflow tools (planner, debug).
//
// Each tool receives its dependencies via its struct (DIP) and exposes
// the same two methods the server wires up: Definition for registration
// and Handle for calls.
//
// Error discipline: expected state loss (an expired conversation or
// workflow session) becomes a tool-result error with an actionable
// one-line message, because the caller can recover by starting over.
// Backend failures propagate as Go errors — they are infrastructure
// problems the caller cannot fix by retyping, and they must never be
// dressed up as "not found".
package tools

import "strings"

// splitList parses a comma-separated argument into trimmed, non-empty
// elements. MCP clients pass file lists this way.
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
