package rpc

import (
	"context"

	"github.com/atomicobject/filesearch-core/internal/query"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterAll registers the command surface with the given MCP server.
func RegisterAll(s *server.MCPServer, cfg Config) error {
	statusTool := mcp.NewTool("get_index_status",
		mcp.WithDescription(`Return the index status record: {state, entriesCount, lastUpdated, permissionErrors, backgroundActive, message?, scanned?, indexed?, currentPath?}. state is one of Unknown/Indexing/Ready/Error.`),
	)
	s.AddTool(statusTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(GetIndexStatus(cfg))
	})

	startTool := mcp.NewTool("start_full_index",
		mcp.WithDescription(`Start a full bulk index run in the background. Returns an ack immediately; watch get_index_status or the event stream for progress.`),
	)
	s.AddTool(startTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(StartFullIndex(cfg))
	})

	resetTool := mcp.NewTool("reset_index",
		mcp.WithDescription(`Truncate the index, clear the change-stream cursors, and re-run the bulk path. Queries keep answering (empty) throughout. This is also the recovery path for a fatal store error.`),
	)
	s.AddTool(resetTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(ResetIndex(cfg))
	})

	searchTool := mcp.NewTool("search",
		mcp.WithDescription(`Search indexed file and directory names. The query classifies automatically: empty, *.ext, glob (* or ?), path (contains a separator), or plain name. Response: {entries:[{path,name,dir,is_dir,ext?,mtime?,size?}], modeLabel, totalCount?, totalKnown}.`),
		mcp.WithString("query", mcp.Required(), mcp.Description("The search text")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 300, hard cap 1000; single-character queries cap at 100)"), mcp.Min(1)),
		mcp.WithNumber("offset", mcp.Description("Pagination offset"), mcp.Min(0)),
		mcp.WithString("sortBy", mcp.Description("Sort column: name (default), dir, mtime, or size")),
		mcp.WithString("sortDir", mcp.Description("Sort direction: asc (default) or desc")),
		mcp.WithBoolean("includeTotal", mcp.Description("Run an additional count query under the same filter")),
	)
	s.AddTool(searchTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		q, ok := args["query"].(string)
		if !ok {
			return mcp.NewToolResultError("query parameter is required and must be a string"), nil
		}
		limitFloat, _ := args["limit"].(float64)
		offsetFloat, _ := args["offset"].(float64)
		sortBy, _ := args["sortBy"].(string)
		sortDir, _ := args["sortDir"].(string)
		includeTotal, _ := args["includeTotal"].(bool)

		resp, err := Search(ctx, cfg, query.Request{
			Query:        q,
			Limit:        int(limitFloat),
			Offset:       int(offsetFloat),
			SortBy:       sortBy,
			SortDir:      sortDir,
			IncludeTotal: includeTotal,
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(resp)
	})

	platformTool := mcp.NewTool("get_platform",
		mcp.WithDescription(`Return the platform label: "macos", "windows", or "other".`),
	)
	s.AddTool(platformTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(GetPlatform())
	})

	homeTool := mcp.NewTool("get_home_dir",
		mcp.WithDescription(`Return the absolute path of the user's home directory.`),
	)
	s.AddTool(homeTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(GetHomeDir())
	})

	recentOpTool := mcp.NewTool("recent_op_register",
		mcp.WithDescription(`Register a self-initiated file operation immediately before performing it, so the change stream does not echo it back. kind is rename, delete, or create; new_path is only meaningful for renames.`),
		mcp.WithString("old_path", mcp.Required(), mcp.Description("Absolute path the operation touches")),
		mcp.WithString("new_path", mcp.Description("Destination path for renames")),
		mcp.WithString("kind", mcp.Required(), mcp.Description("rename | delete | create")),
	)
	s.AddTool(recentOpTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		oldPath, ok := args["old_path"].(string)
		if !ok {
			return mcp.NewToolResultError("old_path parameter is required"), nil
		}
		kind, ok := args["kind"].(string)
		if !ok {
			return mcp.NewToolResultError("kind parameter is required"), nil
		}
		newPath, _ := args["new_path"].(string)
		return jsonResult(RegisterRecentOp(cfg, oldPath, newPath, kind))
	})

	renameTool := mcp.NewTool("apply_rename",
		mcp.WithDescription(`Update the index synchronously after the app renamed a path, instead of waiting for the change stream. Registers the recent-op suppression itself.`),
		mcp.WithString("old_path", mcp.Required(), mcp.Description("Path before the rename")),
		mcp.WithString("new_path", mcp.Required(), mcp.Description("Path after the rename")),
	)
	s.AddTool(renameTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		oldPath, ok := args["old_path"].(string)
		if !ok {
			return mcp.NewToolResultError("old_path parameter is required"), nil
		}
		newPath, ok := args["new_path"].(string)
		if !ok {
			return mcp.NewToolResultError("new_path parameter is required"), nil
		}
		resp, err := ApplyRename(ctx, cfg, oldPath, newPath)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(resp)
	})

	return nil
}
