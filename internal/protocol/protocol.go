// Package protocol defines the shared request/response/error envelope types
// the tool surface (spec §6) exchanges with callers, independent of any
// particular transport. internal/mcpserver marshals these as MCP tool
// results; tests construct them directly.
package protocol

import (
	"time"

	"github.com/agentfs/coord/internal/diffengine"
)

// Status discriminates the three possible response shapes.
type Status string

const (
	StatusOK         Status = "ok"
	StatusContention Status = "contention"
	StatusError      Status = "error"
)

// ErrorKind is a stable identifier for a failure, per spec §7. These are
// never type names and must not change once shipped — clients branch on
// the string.
type ErrorKind string

const (
	ErrFileNotFound             ErrorKind = "file-not-found"
	ErrFileExists               ErrorKind = "file-exists"
	ErrDirNotFound              ErrorKind = "dir-not-found"
	ErrPathOutsideBase          ErrorKind = "path-outside-base"
	ErrAccessDenied             ErrorKind = "access-denied"
	ErrLockTimeout              ErrorKind = "lock-timeout"
	ErrEncodingError            ErrorKind = "encoding-error"
	ErrInvalidPatch             ErrorKind = "invalid-patch"
	ErrContentOrPatchesRequired ErrorKind = "content-or-patches-required"
	ErrFileTooLarge             ErrorKind = "file-too-large"
	ErrWriteError               ErrorKind = "write-error"
	ErrDeleteError              ErrorKind = "delete-error"
	ErrRenameError              ErrorKind = "rename-error"
	ErrInvalidPath              ErrorKind = "invalid-path"
	ErrServerError              ErrorKind = "server-error"
)

// CoordError is the typed error the operation layer returns, carrying the
// stable Kind alongside a human-readable message for logs.
type CoordError struct {
	Kind    ErrorKind
	Message string
}

func (e *CoordError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// NewError builds a CoordError.
func NewError(kind ErrorKind, message string) *CoordError {
	return &CoordError{Kind: kind, Message: message}
}

// ContentionPayload is the shape returned by update/delete/rename when the
// caller's expected_hash does not match the current fingerprint.
type ContentionPayload struct {
	ExpectedHash          string                `json:"expected_hash"`
	CurrentHash           string                `json:"current_hash"`
	Diff                  diffengine.Diff       `json:"diff"`
	PatchesApplicable     []bool                `json:"patches_applicable,omitempty"`
	Conflicts             []diffengine.Conflict `json:"conflicts,omitempty"`
	NonConflictingPatches []int                 `json:"non_conflicting_patches,omitempty"`
}

// Envelope is the outer response shape every tool call returns.
type Envelope struct {
	Status     Status             `json:"status"`
	Timestamp  time.Time          `json:"timestamp"`
	Result     any                `json:"result,omitempty"`
	Contention *ContentionPayload `json:"contention,omitempty"`
	ErrorCode  ErrorKind          `json:"error_code,omitempty"`
	ErrorMsg   string             `json:"error,omitempty"`
}

// OK wraps a successful result.
func OK(result any) Envelope {
	return Envelope{Status: StatusOK, Timestamp: time.Now().UTC(), Result: result}
}

// Contention wraps a contention outcome — a first-class alternative status,
// not an error, per spec §7.
func Contention(p ContentionPayload) Envelope {
	return Envelope{Status: StatusContention, Timestamp: time.Now().UTC(), Contention: &p}
}

// FromError builds an error envelope from a CoordError, or wraps an
// unclassified error as server-error.
func FromError(err error) Envelope {
	if ce, ok := err.(*CoordError); ok {
		return Envelope{Status: StatusError, Timestamp: time.Now().UTC(), ErrorCode: ce.Kind, ErrorMsg: ce.Error()}
	}
	return Envelope{Status: StatusError, Timestamp: time.Now().UTC(), ErrorCode: ErrServerError, ErrorMsg: err.Error()}
}

// BatchSummary is the summary shape for batch_read/batch_write/batch_update.
type BatchSummary struct {
	Total      int `json:"total"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Contention int `json:"contention"`
}

// BatchResult pairs one item's envelope with the item's identifying key so
// callers can correlate responses back to requests. The engine's batch
// operations report their items as engine.BatchItemOutcome values instead.
type BatchResult struct {
	Key      string   `json:"key"`
	Envelope Envelope `json:"envelope"`
}
