package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentfs/coord/internal/diffengine"
	"github.com/agentfs/coord/internal/engine"
)

// ReadTool implements the "read" MCP tool.
func ReadTool(cfg Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		res, cerr := cfg.Engine.Read(ctx, engine.ReadParams{
			Path:    strArg(args, "path"),
			Offset:  intArg(args, "offset"),
			Limit:   intArg(args, "limit"),
			Timeout: timeoutArg(args, "timeout"),
		})
		if cerr != nil {
			return errResult(cerr)
		}
		return okResult(res)
	}
}

// WriteTool implements the "write" MCP tool.
func WriteTool(cfg Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		res, cerr := cfg.Engine.Write(ctx, engine.WriteParams{
			Path:       strArg(args, "path"),
			Content:    strArg(args, "content"),
			CreateDirs: boolArg(args, "create_dirs"),
			Timeout:    timeoutArg(args, "timeout"),
		})
		if cerr != nil {
			return errResult(cerr)
		}
		return okResult(res)
	}
}

// UpdateTool implements the "update" MCP tool.
func UpdateTool(cfg Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		params := engine.UpdateParams{
			Path:         strArg(args, "path"),
			ExpectedHash: strArg(args, "expected_hash"),
			Timeout:      timeoutArg(args, "timeout"),
		}
		if c, ok := args["content"].(string); ok {
			params.Content = &c
		}
		for _, p := range mapArrayArg(args, "patches") {
			params.Patches = append(params.Patches, diffengine.Patch{
				OldString: strArg(p, "old_string"),
				NewString: strArg(p, "new_string"),
			})
		}

		res, contention, cerr := cfg.Engine.Update(ctx, params)
		switch {
		case cerr != nil:
			return errResult(cerr)
		case contention != nil:
			return contentionResult(*contention)
		default:
			return okResult(res)
		}
	}
}

// DeleteTool implements the "delete" MCP tool.
func DeleteTool(cfg Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		res, contention, cerr := cfg.Engine.Delete(ctx, engine.DeleteParams{
			Path:         strArg(args, "path"),
			ExpectedHash: strArg(args, "expected_hash"),
			Timeout:      timeoutArg(args, "timeout"),
		})
		switch {
		case cerr != nil:
			return errResult(cerr)
		case contention != nil:
			return contentionResult(*contention)
		default:
			return okResult(res)
		}
	}
}

// RenameTool implements the "rename" MCP tool.
func RenameTool(cfg Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		res, contention, cerr := cfg.Engine.Rename(ctx, engine.RenameParams{
			OldPath:      strArg(args, "old_path"),
			NewPath:      strArg(args, "new_path"),
			ExpectedHash: strArg(args, "expected_hash"),
			Overwrite:    boolArg(args, "overwrite"),
			CreateDirs:   boolArg(args, "create_dirs"),
			Timeout:      timeoutArg(args, "timeout"),
		})
		switch {
		case cerr != nil:
			return errResult(cerr)
		case contention != nil:
			return contentionResult(*contention)
		default:
			return okResult(res)
		}
	}
}

// AppendTool implements the "append" MCP tool.
func AppendTool(cfg Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		res, cerr := cfg.Engine.Append(ctx, engine.AppendParams{
			Path:            strArg(args, "path"),
			Content:         strArg(args, "content"),
			Separator:       strArg(args, "separator"),
			CreateIfMissing: boolArg(args, "create_if_missing"),
			CreateDirs:      boolArg(args, "create_dirs"),
			Timeout:         timeoutArg(args, "timeout"),
		})
		if cerr != nil {
			return errResult(cerr)
		}
		return okResult(res)
	}
}

// ListTool implements the "list" MCP tool.
func ListTool(cfg Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		res, cerr := cfg.Engine.List(ctx, engine.ListParams{
			Path:          strArg(args, "path"),
			Pattern:       strArg(args, "pattern"),
			Recursive:     boolArg(args, "recursive"),
			IncludeHashes: boolArg(args, "include_hashes"),
		})
		if cerr != nil {
			return errResult(cerr)
		}
		return okResult(res)
	}
}

// StatusTool implements the "status" MCP tool.
func StatusTool(cfg Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		path := strArg(args, "path")

		global, perPath, cerr := cfg.Engine.Status(path)
		if cerr != nil {
			return errResult(cerr)
		}
		if path == "" {
			return okResult(global)
		}
		return okResult(perPath)
	}
}
