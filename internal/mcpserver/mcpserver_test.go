package mcpserver_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/agentfs/coord/internal/engine"
	"github.com/agentfs/coord/internal/mcpserver"
	"github.com/agentfs/coord/internal/pathvalidate"
	"github.com/agentfs/coord/internal/protocol"
)

func newTestEngine(t *testing.T) (*engine.Engine, string) {
	t.Helper()

	base := t.TempDir()
	e, err := engine.New(engine.Settings{
		BaseDirectories:          []string{base},
		DefaultTimeout:           2 * time.Second,
		MaxTimeout:               5 * time.Second,
		DiffContextLines:         3,
		MaxFileSizeBytes:         10 << 20,
		DefaultDestructivePolicy: pathvalidate.ActionAllow,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	return e, base
}

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) protocol.Envelope {
	t.Helper()

	req := mcp.CallToolRequest{}
	req.Params.Arguments = args

	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.False(t, res.IsError, "unexpected tool error result")
	require.Len(t, res.Content, 1)

	textContent, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal([]byte(textContent.Text), &env))
	return env
}

func TestWriteThenReadViaTools(t *testing.T) {
	e, base := newTestEngine(t)
	cfg := mcpserver.Config{Engine: e, Version: "test"}
	path := filepath.Join(base, "a.txt")

	writeEnv := callTool(t, mcpserver.WriteTool(cfg), map[string]any{"path": path, "content": "hello"})
	require.Equal(t, protocol.StatusOK, writeEnv.Status)

	readEnv := callTool(t, mcpserver.ReadTool(cfg), map[string]any{"path": path})
	require.Equal(t, protocol.StatusOK, readEnv.Status)
}

func TestUpdateContentionSurfacedAsStatus(t *testing.T) {
	e, base := newTestEngine(t)
	cfg := mcpserver.Config{Engine: e, Version: "test"}
	path := filepath.Join(base, "a.txt")

	callTool(t, mcpserver.WriteTool(cfg), map[string]any{"path": path, "content": "v1"})

	env := callTool(t, mcpserver.UpdateTool(cfg), map[string]any{
		"path":          path,
		"expected_hash": "sha256:wrong",
		"content":       "v2",
	})
	require.Equal(t, protocol.StatusContention, env.Status)
	require.NotNil(t, env.Contention)
}

func TestBatchReadToolReportsSummary(t *testing.T) {
	e, base := newTestEngine(t)
	cfg := mcpserver.Config{Engine: e, Version: "test"}
	path := filepath.Join(base, "a.txt")
	callTool(t, mcpserver.WriteTool(cfg), map[string]any{"path": path, "content": "v1"})

	env := callTool(t, mcpserver.BatchReadTool(cfg), map[string]any{
		"items": []any{
			map[string]any{"path": path},
		},
	})
	require.Equal(t, protocol.StatusOK, env.Status)
}
