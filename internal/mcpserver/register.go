package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterAll wires every tool in the spec §6 surface into s.
func RegisterAll(s *server.MCPServer, cfg Config) error {
	s.AddTool(mcp.NewTool("read",
		mcp.WithDescription("Read a file's content and current hash. Response includes hash, content, total_lines, lines_returned. Pass the returned hash as expected_hash on a later update/delete/rename."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path, absolute or relative to the server's working directory; must lie inside a configured base directory")),
		mcp.WithNumber("offset", mcp.Description("0-indexed starting line (default 0)")),
		mcp.WithNumber("limit", mcp.Description("Maximum lines to return (default: whole file)")),
		mcp.WithNumber("timeout", mcp.Description("Seconds to wait for the read lock before failing (default: server default)")),
	), ReadTool(cfg))

	s.AddTool(mcp.NewTool("write",
		mcp.WithDescription("Create a new file. Fails with file-exists if the path already exists; use update to modify an existing file."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path to create")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Full file content")),
		mcp.WithBoolean("create_dirs", mcp.Description("Create missing parent directories")),
		mcp.WithNumber("timeout", mcp.Description("Seconds to wait for the write lock")),
	), WriteTool(cfg))

	s.AddTool(mcp.NewTool("update",
		mcp.WithDescription("Replace a file's content, or apply old_string/new_string patches, contingent on expected_hash matching the file's current hash. On mismatch returns status contention with a diff and (if patches were supplied) per-patch applicability, and makes no change."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path to update")),
		mcp.WithString("expected_hash", mcp.Required(), mcp.Description("Hash last observed for this file, from read/status/a prior write response")),
		mcp.WithString("content", mcp.Description("Full replacement content. Exactly one of content or patches is required")),
		mcp.WithArray("patches", mcp.Description("List of {old_string,new_string} patches applied in order. Exactly one of content or patches is required"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"old_string": map[string]any{"type": "string"},
					"new_string": map[string]any{"type": "string"},
				},
				"required": []string{"old_string", "new_string"},
			}),
		),
		mcp.WithNumber("timeout", mcp.Description("Seconds to wait for the write lock")),
	), UpdateTool(cfg))

	s.AddTool(mcp.NewTool("delete",
		mcp.WithDescription("Delete a file. If expected_hash is given and doesn't match, returns contention and does not delete."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path to delete")),
		mcp.WithString("expected_hash", mcp.Description("Optional: skip the contention check if empty")),
		mcp.WithNumber("timeout", mcp.Description("Seconds to wait for the write lock")),
	), DeleteTool(cfg))

	s.AddTool(mcp.NewTool("rename",
		mcp.WithDescription("Rename/move a file. Both paths are locked for the duration in a fixed global order to prevent deadlocks with concurrent renames."),
		mcp.WithString("old_path", mcp.Required(), mcp.Description("Existing file path")),
		mcp.WithString("new_path", mcp.Required(), mcp.Description("Destination path")),
		mcp.WithString("expected_hash", mcp.Description("Optional: contention-check the source file before renaming")),
		mcp.WithBoolean("overwrite", mcp.Description("Allow replacing an existing file at new_path")),
		mcp.WithBoolean("create_dirs", mcp.Description("Create missing parent directories for new_path")),
		mcp.WithNumber("timeout", mcp.Description("Seconds to wait for both locks")),
	), RenameTool(cfg))

	s.AddTool(mcp.NewTool("append",
		mcp.WithDescription("Append content to a file. No contention check: concurrent appends are commutative and never conflict. Returns the whole file's hash after appending."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path to append to")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Content to append")),
		mcp.WithString("separator", mcp.Description("Inserted between existing content and the appended content (default none)")),
		mcp.WithBoolean("create_if_missing", mcp.Description("Create the file if it doesn't exist")),
		mcp.WithBoolean("create_dirs", mcp.Description("Create missing parent directories")),
		mcp.WithNumber("timeout", mcp.Description("Seconds to wait for the write lock")),
	), AppendTool(cfg))

	s.AddTool(mcp.NewTool("list",
		mcp.WithDescription("List files under a directory. No lock is taken; this is a read-family operation."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Directory path")),
		mcp.WithString("pattern", mcp.Description("Glob pattern matched against each entry's base name")),
		mcp.WithBoolean("recursive", mcp.Description("Recurse into subdirectories")),
		mcp.WithBoolean("include_hashes", mcp.Description("Attach the last-known hash for each tracked file")),
	), ListTool(cfg))

	s.AddTool(mcp.NewTool("status",
		mcp.WithDescription("Report process-wide status (version, uptime, tracked file count, total lock queue depth) when called without path, or per-path lock/registry state when path is given."),
		mcp.WithString("path", mcp.Description("Optional: a specific file to inspect")),
	), StatusTool(cfg))

	s.AddTool(mcp.NewTool("batch_read",
		mcp.WithDescription("Read multiple files in one call. Sequential, non-transactional: each item succeeds or fails independently. Response includes a per-item result vector and a summary {total,succeeded,failed,contention}."),
		mcp.WithNumber("timeout", mcp.Description("Seconds to wait for each item's read lock (default: server default)")),
		mcp.WithArray("items", mcp.Required(), mcp.Description("List of {path, offset?, limit?}"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":   map[string]any{"type": "string"},
					"offset": map[string]any{"type": "number"},
					"limit":  map[string]any{"type": "number"},
				},
				"required": []string{"path"},
			}),
		),
	), BatchReadTool(cfg))

	s.AddTool(mcp.NewTool("batch_write",
		mcp.WithDescription("Create multiple new files in one call. Sequential, non-transactional: an earlier item's failure does not prevent later items from running."),
		mcp.WithArray("items", mcp.Required(), mcp.Description("List of {path, content, create_dirs?}"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":        map[string]any{"type": "string"},
					"content":     map[string]any{"type": "string"},
					"create_dirs": map[string]any{"type": "boolean"},
				},
				"required": []string{"path", "content"},
			}),
		),
	), BatchWriteTool(cfg))

	s.AddTool(mcp.NewTool("batch_update",
		mcp.WithDescription("Update multiple files in one call, each with its own expected_hash. Sequential, non-transactional: items that hit contention are reported individually in the result vector and do not stop the remaining items from being attempted."),
		mcp.WithArray("items", mcp.Required(), mcp.Description("List of {path, expected_hash, content}"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":          map[string]any{"type": "string"},
					"expected_hash": map[string]any{"type": "string"},
					"content":       map[string]any{"type": "string"},
				},
				"required": []string{"path", "expected_hash", "content"},
			}),
		),
	), BatchUpdateTool(cfg))

	return nil
}
