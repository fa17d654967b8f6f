// Package mcpserver exposes the engine's operations as Model Context
// Protocol tools over stdio, for use by coding-agent MCP clients.
package mcpserver

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentfs/coord/internal/engine"
	"github.com/agentfs/coord/internal/protocol"
)

// Config bundles the running engine and server metadata RegisterAll needs.
type Config struct {
	Engine  *engine.Engine
	Version string
}

// New builds an MCP server with every coord tool registered.
func New(cfg Config) (*server.MCPServer, error) {
	s := server.NewMCPServer(
		"coord",
		cfg.Version,
		server.WithToolCapabilities(false),
		server.WithInstructions(instructions),
	)

	if err := RegisterAll(s, cfg); err != nil {
		return nil, err
	}

	return s, nil
}

const instructions = `coord coordinates concurrent file edits between AI agents working in the
same directories. Every mutating call (update, delete, rename) takes an
expected_hash: if another agent changed the file since you last read it,
the call returns status "contention" with a diff instead of silently
clobbering the change. Call read or status first to obtain a hash, then
pass it back on the next update, delete or rename. write/append never require a hash; write
refuses to clobber an existing file, append is commutative.`

func textResult(env protocol.Envelope) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func errResult(ce *protocol.CoordError) (*mcp.CallToolResult, error) {
	return textResult(protocol.FromError(ce))
}

func okResult(result any) (*mcp.CallToolResult, error) {
	return textResult(protocol.OK(result))
}

func contentionResult(p protocol.ContentionPayload) (*mcp.CallToolResult, error) {
	return textResult(protocol.Contention(p))
}
