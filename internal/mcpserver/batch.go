package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentfs/coord/internal/engine"
)

// BatchReadTool implements the "batch_read" MCP tool.
func BatchReadTool(cfg Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		var items []engine.BatchReadItem
		for _, it := range mapArrayArg(args, "items") {
			items = append(items, engine.BatchReadItem{
				Path:   strArg(it, "path"),
				Offset: intArg(it, "offset"),
				Limit:  intArg(it, "limit"),
			})
		}

		res := cfg.Engine.BatchRead(ctx, items, timeoutArg(args, "timeout"))
		return okResult(res)
	}
}

// BatchWriteTool implements the "batch_write" MCP tool.
func BatchWriteTool(cfg Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		var items []engine.BatchWriteItem
		for _, it := range mapArrayArg(args, "items") {
			items = append(items, engine.BatchWriteItem{
				Path:       strArg(it, "path"),
				Content:    strArg(it, "content"),
				CreateDirs: boolArg(it, "create_dirs"),
			})
		}

		res := cfg.Engine.BatchWrite(ctx, items)
		return okResult(res)
	}
}

// BatchUpdateTool implements the "batch_update" MCP tool.
func BatchUpdateTool(cfg Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		var items []engine.BatchUpdateItem
		for _, it := range mapArrayArg(args, "items") {
			content := strArg(it, "content")
			items = append(items, engine.BatchUpdateItem{
				Path:         strArg(it, "path"),
				ExpectedHash: strArg(it, "expected_hash"),
				Content:      &content,
			})
		}

		res := cfg.Engine.BatchUpdate(ctx, items)
		return okResult(res)
	}
}
