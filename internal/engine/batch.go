package engine

import (
	"context"
	"time"

	"github.com/agentfs/coord/internal/protocol"
)

// BatchReadItem is one item of a batch_read request.
type BatchReadItem struct {
	Path   string
	Offset int
	Limit  int
}

// BatchItemOutcome is one item's result within a batch call: exactly one of
// Result, Contention, or Error is set.
type BatchItemOutcome struct {
	Key        string
	Result     any
	Contention *protocol.ContentionPayload
	Error      *protocol.CoordError
}

// BatchReadResult is batch_read's full response.
type BatchReadResult struct {
	Items   []BatchItemOutcome
	Summary protocol.BatchSummary
}

// BatchRead implements spec §4.8.9 for read: sequential, non-transactional,
// a full per-item result vector plus summary, never short-circuiting.
// timeout, if positive, bounds each item's individual lock wait.
func (e *Engine) BatchRead(ctx context.Context, items []BatchReadItem, timeout time.Duration) BatchReadResult {
	var out BatchReadResult
	out.Summary.Total = len(items)

	for _, item := range items {
		res, cerr := e.Read(ctx, ReadParams{Path: item.Path, Offset: item.Offset, Limit: item.Limit, Timeout: timeout})
		if cerr != nil {
			out.Items = append(out.Items, BatchItemOutcome{Key: item.Path, Error: cerr})
			out.Summary.Failed++
			continue
		}
		out.Items = append(out.Items, BatchItemOutcome{Key: item.Path, Result: res})
		out.Summary.Succeeded++
	}

	return out
}

// BatchWriteItem is one item of a batch_write request.
type BatchWriteItem struct {
	Path       string
	Content    string
	CreateDirs bool
}

// BatchWrite implements spec §4.8.9 for write.
func (e *Engine) BatchWrite(ctx context.Context, items []BatchWriteItem) BatchReadResult {
	var out BatchReadResult
	out.Summary.Total = len(items)

	for _, item := range items {
		res, cerr := e.Write(ctx, WriteParams{Path: item.Path, Content: item.Content, CreateDirs: item.CreateDirs})
		if cerr != nil {
			out.Items = append(out.Items, BatchItemOutcome{Key: item.Path, Error: cerr})
			out.Summary.Failed++
			continue
		}
		out.Items = append(out.Items, BatchItemOutcome{Key: item.Path, Result: res})
		out.Summary.Succeeded++
	}

	return out
}

// BatchUpdateItem is one item of a batch_update request.
type BatchUpdateItem struct {
	Path         string
	ExpectedHash string
	Content      *string
}

// BatchUpdate implements spec §4.8.9 for update, including the documented
// contention outcome per item (end-to-end scenario 6).
func (e *Engine) BatchUpdate(ctx context.Context, items []BatchUpdateItem) BatchReadResult {
	var out BatchReadResult
	out.Summary.Total = len(items)

	for _, item := range items {
		res, contention, cerr := e.Update(ctx, UpdateParams{Path: item.Path, ExpectedHash: item.ExpectedHash, Content: item.Content})
		switch {
		case cerr != nil:
			out.Items = append(out.Items, BatchItemOutcome{Key: item.Path, Error: cerr})
			out.Summary.Failed++
		case contention != nil:
			out.Items = append(out.Items, BatchItemOutcome{Key: item.Path, Contention: contention})
			out.Summary.Contention++
		default:
			out.Items = append(out.Items, BatchItemOutcome{Key: item.Path, Result: res})
			out.Summary.Succeeded++
		}
	}

	return out
}
