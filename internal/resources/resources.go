// Package resources implements MCP resource handlers.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (tandem://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tandem-ai/tandem/internal/storage"
)

// Handler manages tandem resource endpoints.
type Handler struct {
	backend storage.Backend
	version string
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(backend storage.Backend, version string) *Handler {
	return &Handler{backend: backend, version: version}
}

// storageStatus is the JSON shape served at tandem://storage/status.
type storageStatus struct {
	Server  string `json:"server"`
	Version string `json:"version"`
	Backend string `json:"backend"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// StatusResource returns the MCP resource definition for storage status.
func (h *Handler) StatusResource() mcp.Resource {
	return mcp.NewResource(
		"tandem://storage/status",
		"Storage Backend Status",
		mcp.WithResourceDescription("Active storage backend and its current health"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStatus returns the active backend's health as JSON. A failed
// probe is still a successful read: the unhealthy status is the data.
func (h *Handler) HandleStatus(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	health := h.backend.HealthCheck(ctx)

	status := storageStatus{
		Server:  "tandem",
		Version: h.version,
		Backend: h.backend.Name(),
		Healthy: health.Healthy,
		Detail:  health.Detail,
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling status: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
