// Package rpc is the GUI-facing command surface, exposed as MCP tools over
// stdio. Each tool wraps exactly one core operation; the search CLI
// subcommand calls the same Search handler.
package rpc

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/atomicobject/filesearch-core/internal/config"
	"github.com/atomicobject/filesearch-core/internal/entry"
	"github.com/atomicobject/filesearch-core/internal/indexer"
	"github.com/atomicobject/filesearch-core/internal/query"
	"github.com/atomicobject/filesearch-core/internal/recentops"
	"github.com/atomicobject/filesearch-core/internal/status"
	"github.com/mark3labs/mcp-go/mcp"
)

// Config carries the collaborators every tool handler needs.
type Config struct {
	Cfg     config.Config
	Status  *status.Tracker
	Indexer *indexer.Indexer
	Query   *query.Engine
	Recent  *recentops.Cache
}

// StatusResponse is the get_index_status payload.
type StatusResponse struct {
	State            string `json:"state"`
	EntriesCount     int64  `json:"entriesCount"`
	LastUpdated      int64  `json:"lastUpdated"`
	PermissionErrors int64  `json:"permissionErrors"`
	BackgroundActive bool   `json:"backgroundActive"`
	Message          string `json:"message,omitempty"`
	Scanned          int64  `json:"scanned,omitempty"`
	Indexed          int64  `json:"indexed,omitempty"`
	CurrentPath      string `json:"currentPath,omitempty"`
}

// SearchResponse is the search payload.
type SearchResponse struct {
	Entries     []entry.DTO `json:"entries"`
	ModeLabel   string      `json:"modeLabel"`
	TotalCount  *int64      `json:"totalCount,omitempty"`
	TotalKnown  bool        `json:"totalKnown"`
	Provisional bool        `json:"provisional,omitempty"`
}

// AckResponse acknowledges side-effect-free command submission.
type AckResponse struct {
	OK bool `json:"ok"`
}

// GetIndexStatus assembles the full status record.
func GetIndexStatus(cfg Config) StatusResponse {
	snap := cfg.Status.Snapshot()
	return StatusResponse{
		State:            string(snap.State),
		EntriesCount:     snap.EntriesCount,
		LastUpdated:      snap.LastUpdated,
		PermissionErrors: snap.PermissionErrors,
		BackgroundActive: snap.BackgroundActive,
		Message:          snap.Message,
		Scanned:          snap.Progress.Scanned,
		Indexed:          snap.Progress.Indexed,
		CurrentPath:      snap.Progress.CurrentPath,
	}
}

// StartFullIndex kicks a bulk run in the background; a run already in
// flight makes this a no-op.
func StartFullIndex(cfg Config) AckResponse {
	go func() {
		if err := cfg.Indexer.Start(context.Background()); err != nil && err != indexer.ErrAlreadyRunning {
			log.Printf("rpc: full index: %v", err)
		}
	}()
	return AckResponse{OK: true}
}

// ResetIndex truncates and rebuilds in the background.
func ResetIndex(cfg Config) AckResponse {
	go func() {
		if err := cfg.Indexer.Reset(context.Background()); err != nil {
			log.Printf("rpc: reset index: %v", err)
		}
	}()
	return AckResponse{OK: true}
}

// Search executes one query.
func Search(ctx context.Context, cfg Config, req query.Request) (SearchResponse, error) {
	resp, err := cfg.Query.Search(ctx, req)
	if err != nil {
		return SearchResponse{}, err
	}
	dtos := make([]entry.DTO, len(resp.Entries))
	for i, e := range resp.Entries {
		dtos[i] = e.ToDTO()
	}
	out := SearchResponse{
		Entries:     dtos,
		ModeLabel:   resp.ModeLabel,
		TotalKnown:  resp.TotalKnown,
		Provisional: resp.Provisional,
	}
	if resp.TotalKnown || req.IncludeTotal {
		total := resp.TotalCount
		out.TotalCount = &total
	}
	return out, nil
}

// GetPlatform returns the coarse platform label.
func GetPlatform() string { return config.Platform() }

// GetHomeDir returns the user's home directory.
func GetHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

// RegisterRecentOp records a self-initiated operation before the
// collaborator performs the external action.
func RegisterRecentOp(cfg Config, oldPath, newPath, kind string) AckResponse {
	cfg.Recent.Register(oldPath, newPath, entry.OpKind(kind))
	return AckResponse{OK: true}
}

// ApplyRename updates the store synchronously for an app-initiated rename.
func ApplyRename(ctx context.Context, cfg Config, oldPath, newPath string) (AckResponse, error) {
	cfg.Recent.Register(oldPath, newPath, entry.OpRename)
	if err := cfg.Indexer.ApplyRename(ctx, oldPath, newPath); err != nil {
		return AckResponse{}, err
	}
	return AckResponse{OK: true}, nil
}

// jsonResult marshals a payload into an MCP text result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
