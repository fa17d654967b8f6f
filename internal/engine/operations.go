package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agentfs/coord/internal/diffengine"
	"github.com/agentfs/coord/internal/fileio"
	"github.com/agentfs/coord/internal/hashfp"
	"github.com/agentfs/coord/internal/lockmgr"
	"github.com/agentfs/coord/internal/pathvalidate"
	"github.com/agentfs/coord/internal/protocol"
	"github.com/agentfs/coord/internal/registry"
)

func (e *Engine) track(ctx context.Context) (context.Context, func(), error) {
	if e.refusingNewWork() {
		return nil, nil, protocol.NewError(protocol.ErrServerError, "engine is shutting down")
	}
	e.inFlight.Add(1)
	return ctx, func() { e.inFlight.Add(-1) }, nil
}

func classifyValidationErr(err error) *protocol.CoordError {
	var ve *pathvalidate.Error
	if errors.As(err, &ve) {
		switch ve.Kind {
		case pathvalidate.FailureOutsideBase:
			return protocol.NewError(protocol.ErrPathOutsideBase, ve.Error())
		case pathvalidate.FailureAccessDenied:
			return protocol.NewError(protocol.ErrAccessDenied, ve.Error())
		default:
			return protocol.NewError(protocol.ErrInvalidPath, ve.Error())
		}
	}
	return protocol.NewError(protocol.ErrInvalidPath, err.Error())
}

func classifyIOErr(err error) *protocol.CoordError {
	switch {
	case errors.Is(err, fileio.ErrNotFound):
		return protocol.NewError(protocol.ErrFileNotFound, err.Error())
	case errors.Is(err, fileio.ErrExists):
		return protocol.NewError(protocol.ErrFileExists, err.Error())
	case errors.Is(err, fileio.ErrTooLarge):
		return protocol.NewError(protocol.ErrFileTooLarge, err.Error())
	case errors.Is(err, fileio.ErrWrite):
		return protocol.NewError(protocol.ErrWriteError, err.Error())
	case errors.Is(err, fileio.ErrDelete):
		return protocol.NewError(protocol.ErrDeleteError, err.Error())
	case errors.Is(err, fileio.ErrRename):
		return protocol.NewError(protocol.ErrRenameError, err.Error())
	default:
		return protocol.NewError(protocol.ErrServerError, err.Error())
	}
}

// ReadParams mirrors spec §4.8.1.
type ReadParams struct {
	Path    string
	Offset  int
	Limit   int
	Timeout time.Duration
}

// ReadResult is read()'s success payload.
type ReadResult struct {
	Hash          string `json:"hash"`
	Content       string `json:"content"`
	TotalLines    int    `json:"total_lines"`
	LinesReturned int    `json:"lines_returned"`
}

// Read implements spec §4.8.1.
func (e *Engine) Read(ctx context.Context, p ReadParams) (ReadResult, *protocol.CoordError) {
	ctx, done, err := e.track(ctx)
	if err != nil {
		return ReadResult{}, err.(*protocol.CoordError)
	}
	defer done()

	canon, verr := e.validator.Resolve(p.Path, pathvalidate.OpRead, false)
	if verr != nil {
		return ReadResult{}, classifyValidationErr(verr)
	}

	deadline := e.deadlineFor(p.Timeout)
	tok, lerr := e.acquireShared(ctx, canon, deadline)
	if lerr != nil {
		return ReadResult{}, lockErrToCoord(lerr)
	}
	defer e.locks.Release(tok)

	res, ioErr := ioSyscall(ctx, e, func() (fileio.ReadResult, error) { return e.io.Read(canon, p.Offset, p.Limit) })
	if ioErr != nil {
		return ReadResult{}, classifyIOErr(ioErr)
	}

	hash := hashfp.Of(res.Bytes)
	e.reg.Put(canon, hash, registry.SourceInternalWrite)
	e.markDirty()

	return ReadResult{
		Hash:          hash,
		Content:       strings.Join(res.Lines, "\n"),
		TotalLines:    res.TotalLines,
		LinesReturned: res.LinesReturned,
	}, nil
}

// WriteParams mirrors spec §4.8.2.
type WriteParams struct {
	Path       string
	Content    string
	CreateDirs bool
	Timeout    time.Duration
}

// WriteResult is write()'s success payload.
type WriteResult struct {
	Hash string `json:"hash"`
}

// Write implements spec §4.8.2: create-only semantics.
func (e *Engine) Write(ctx context.Context, p WriteParams) (WriteResult, *protocol.CoordError) {
	ctx, done, err := e.track(ctx)
	if err != nil {
		return WriteResult{}, err.(*protocol.CoordError)
	}
	defer done()

	canon, verr := e.validator.Resolve(p.Path, pathvalidate.OpWrite, true)
	if verr != nil {
		return WriteResult{}, classifyValidationErr(verr)
	}

	deadline := e.deadlineFor(p.Timeout)
	tok, lerr := e.acquireExclusive(ctx, canon, deadline)
	if lerr != nil {
		return WriteResult{}, lockErrToCoord(lerr)
	}
	defer e.locks.Release(tok)

	content := []byte(p.Content)
	_, ioErr := ioSyscallVoid(ctx, e, func() error { return e.io.WriteCreateOnly(canon, content, p.CreateDirs, 0o644) })
	if ioErr != nil {
		return WriteResult{}, classifyIOErr(ioErr)
	}

	hash := hashfp.Of(content)
	e.reg.Put(canon, hash, registry.SourceInternalWrite)
	e.markDirty()

	return WriteResult{Hash: hash}, nil
}

// UpdateParams mirrors spec §4.8.3.
type UpdateParams struct {
	Path         string
	ExpectedHash string
	Content      *string
	Patches      []diffengine.Patch
	Timeout      time.Duration
	DiffFormat   string
}

// UpdateResult is update()'s success payload.
type UpdateResult struct {
	PreviousHash string `json:"previous_hash"`
	NewHash      string `json:"new_hash"`
}

// Update implements spec §4.8.3.
func (e *Engine) Update(ctx context.Context, p UpdateParams) (UpdateResult, *protocol.ContentionPayload, *protocol.CoordError) {
	ctx, done, err := e.track(ctx)
	if err != nil {
		return UpdateResult{}, nil, err.(*protocol.CoordError)
	}
	defer done()

	if (p.Content == nil) == (len(p.Patches) == 0) {
		return UpdateResult{}, nil, protocol.NewError(protocol.ErrContentOrPatchesRequired, "exactly one of content or patches is required")
	}

	canon, verr := e.validator.Resolve(p.Path, pathvalidate.OpUpdate, false)
	if verr != nil {
		return UpdateResult{}, nil, classifyValidationErr(verr)
	}

	deadline := e.deadlineFor(p.Timeout)
	tok, lerr := e.acquireExclusive(ctx, canon, deadline)
	if lerr != nil {
		return UpdateResult{}, nil, lockErrToCoord(lerr)
	}
	defer e.locks.Release(tok)

	readRes, ioErr := ioSyscall(ctx, e, func() (fileio.ReadResult, error) { return e.io.Read(canon, 0, 0) })
	if ioErr != nil {
		return UpdateResult{}, nil, classifyIOErr(ioErr)
	}

	currentContent := string(readRes.Bytes)
	currentHash := hashfp.Of(readRes.Bytes)

	if currentHash != p.ExpectedHash {
		// When the caller submitted whole-file content, diff it against what's
		// actually on disk now so the region list reflects their own edit
		// rather than degenerating to "everything is added". Patch-only calls
		// have no candidate whole-file state to diff against, so they fall
		// back to an empty-vs-current comparison.
		expected := ""
		if p.Content != nil {
			expected = *p.Content
		}
		diff := e.computeDiff(expected, currentContent)
		payload := &protocol.ContentionPayload{ExpectedHash: p.ExpectedHash, CurrentHash: currentHash, Diff: diff}

		if len(p.Patches) > 0 {
			appl := diffengine.CheckApplicability("", currentContent, p.Patches)
			payload.PatchesApplicable = appl.Applicable
			payload.Conflicts = appl.Conflicts
			payload.NonConflictingPatches = appl.NonConflictingPatches
		}

		return UpdateResult{}, payload, nil
	}

	var newContent string
	if p.Content != nil {
		newContent = *p.Content
	} else {
		applied, failedIdx, err := diffengine.ApplyPatches(currentContent, p.Patches)
		if err != nil {
			return UpdateResult{}, nil, protocol.NewError(protocol.ErrInvalidPatch, "patch "+strconv.Itoa(failedIdx)+" not uniquely locatable")
		}
		newContent = applied
	}

	_, ioErr = ioSyscallVoid(ctx, e, func() error { return e.io.Overwrite(canon, []byte(newContent), false, 0) })
	if ioErr != nil {
		return UpdateResult{}, nil, classifyIOErr(ioErr)
	}

	newHash := hashfp.Of([]byte(newContent))
	e.reg.Put(canon, newHash, registry.SourceInternalWrite)
	e.markDirty()

	return UpdateResult{PreviousHash: currentHash, NewHash: newHash}, nil, nil
}

// DeleteParams mirrors spec §4.8.4.
type DeleteParams struct {
	Path         string
	ExpectedHash string // empty means "no contention check"
	Timeout      time.Duration
}

// DeleteResult is delete()'s success payload.
type DeleteResult struct {
	DeletedHash string `json:"deleted_hash"`
}

// Delete implements spec §4.8.4.
func (e *Engine) Delete(ctx context.Context, p DeleteParams) (DeleteResult, *protocol.ContentionPayload, *protocol.CoordError) {
	ctx, done, err := e.track(ctx)
	if err != nil {
		return DeleteResult{}, nil, err.(*protocol.CoordError)
	}
	defer done()

	canon, verr := e.validator.Resolve(p.Path, pathvalidate.OpDelete, false)
	if verr != nil {
		return DeleteResult{}, nil, classifyValidationErr(verr)
	}

	deadline := e.deadlineFor(p.Timeout)
	tok, lerr := e.acquireExclusive(ctx, canon, deadline)
	if lerr != nil {
		return DeleteResult{}, nil, lockErrToCoord(lerr)
	}
	defer e.locks.Release(tok)

	readRes, ioErr := ioSyscall(ctx, e, func() (fileio.ReadResult, error) { return e.io.Read(canon, 0, 0) })
	if ioErr != nil {
		return DeleteResult{}, nil, classifyIOErr(ioErr)
	}

	currentHash := hashfp.Of(readRes.Bytes)
	if p.ExpectedHash != "" && currentHash != p.ExpectedHash {
		diff := e.computeDiff("", string(readRes.Bytes))
		return DeleteResult{}, &protocol.ContentionPayload{ExpectedHash: p.ExpectedHash, CurrentHash: currentHash, Diff: diff}, nil
	}

	_, ioErr = ioSyscallVoid(ctx, e, func() error { return e.io.Delete(canon) })
	if ioErr != nil {
		return DeleteResult{}, nil, classifyIOErr(ioErr)
	}

	e.reg.Delete(canon)
	e.markDirty()

	return DeleteResult{DeletedHash: currentHash}, nil, nil
}

// RenameParams mirrors spec §4.8.5.
type RenameParams struct {
	OldPath      string
	NewPath      string
	ExpectedHash string
	Overwrite    bool
	CreateDirs   bool
	Timeout      time.Duration
}

// RenameResult is rename()'s success payload.
type RenameResult struct {
	CrossFilesystem bool `json:"cross_filesystem"`
}

// Rename implements spec §4.8.5.
func (e *Engine) Rename(ctx context.Context, p RenameParams) (RenameResult, *protocol.ContentionPayload, *protocol.CoordError) {
	ctx, done, err := e.track(ctx)
	if err != nil {
		return RenameResult{}, nil, err.(*protocol.CoordError)
	}
	defer done()

	oldCanon, verr := e.validator.Resolve(p.OldPath, pathvalidate.OpRenameSrc, false)
	if verr != nil {
		return RenameResult{}, nil, classifyValidationErr(verr)
	}
	newCanon, verr := e.validator.Resolve(p.NewPath, pathvalidate.OpRenameDst, true)
	if verr != nil {
		return RenameResult{}, nil, classifyValidationErr(verr)
	}

	deadline := e.deadlineFor(p.Timeout)
	tokA, tokB, lerr := e.locks.AcquireTwoExclusive(ctx, oldCanon, newCanon, deadline)
	if lerr != nil {
		if errors.Is(lerr, lockmgr.ErrInvalidPath) {
			return RenameResult{}, nil, protocol.NewError(protocol.ErrInvalidPath, lerr.Error())
		}
		return RenameResult{}, nil, lockErrToCoord(lerr)
	}
	defer e.locks.Release(tokA)
	defer e.locks.Release(tokB)

	if p.ExpectedHash != "" {
		readRes, ioErr := ioSyscall(ctx, e, func() (fileio.ReadResult, error) { return e.io.Read(oldCanon, 0, 0) })
		if ioErr != nil {
			return RenameResult{}, nil, classifyIOErr(ioErr)
		}
		currentHash := hashfp.Of(readRes.Bytes)
		if currentHash != p.ExpectedHash {
			diff := e.computeDiff("", string(readRes.Bytes))
			return RenameResult{}, &protocol.ContentionPayload{ExpectedHash: p.ExpectedHash, CurrentHash: currentHash, Diff: diff}, nil
		}
	}

	res, ioErr := ioSyscall(ctx, e, func() (fileio.RenameResult, error) {
		return e.io.Rename(oldCanon, newCanon, p.Overwrite, p.CreateDirs)
	})
	if ioErr != nil {
		return RenameResult{}, nil, classifyIOErr(ioErr)
	}

	e.reg.Rename(oldCanon, newCanon)
	e.markDirty()

	return RenameResult{CrossFilesystem: res.CrossFilesystem}, nil, nil
}

// AppendParams mirrors spec §4.8.6.
type AppendParams struct {
	Path            string
	Content         string
	CreateIfMissing bool
	CreateDirs      bool
	Separator       string
	Timeout         time.Duration
}

// AppendResult is append()'s success payload.
type AppendResult struct {
	Hash string `json:"hash"`
}

// Append implements spec §4.8.6. No contention check: appends are
// commutative at the protocol level.
func (e *Engine) Append(ctx context.Context, p AppendParams) (AppendResult, *protocol.CoordError) {
	ctx, done, err := e.track(ctx)
	if err != nil {
		return AppendResult{}, err.(*protocol.CoordError)
	}
	defer done()

	canon, verr := e.validator.Resolve(p.Path, pathvalidate.OpAppend, p.CreateIfMissing)
	if verr != nil {
		return AppendResult{}, classifyValidationErr(verr)
	}

	deadline := e.deadlineFor(p.Timeout)
	tok, lerr := e.acquireExclusive(ctx, canon, deadline)
	if lerr != nil {
		return AppendResult{}, lockErrToCoord(lerr)
	}
	defer e.locks.Release(tok)

	data, ioErr := ioSyscall(ctx, e, func() ([]byte, error) {
		return e.io.Append(canon, []byte(p.Content), p.Separator, p.CreateIfMissing, p.CreateDirs, 0o644)
	})
	if ioErr != nil {
		return AppendResult{}, classifyIOErr(ioErr)
	}

	hash := hashfp.Of(data)
	e.reg.Put(canon, hash, registry.SourceInternalWrite)
	e.markDirty()

	return AppendResult{Hash: hash}, nil
}

// ListEntry is one entry of list()'s result.
type ListEntry struct {
	Name     string  `json:"name"`
	IsDir    bool    `json:"is_dir"`
	Size     int64   `json:"size"`
	Modified string  `json:"modified"`
	Hash     *string `json:"hash,omitempty"`
}

// ListParams mirrors spec §4.8.7.
type ListParams struct {
	Path          string
	Pattern       string
	Recursive     bool
	IncludeHashes bool
}

// List implements spec §4.8.7. Read-family: no lock.
func (e *Engine) List(ctx context.Context, p ListParams) ([]ListEntry, *protocol.CoordError) {
	_, done, err := e.track(ctx)
	if err != nil {
		return nil, err.(*protocol.CoordError)
	}
	defer done()

	canon, verr := e.validator.Resolve(p.Path, pathvalidate.OpList, false)
	if verr != nil {
		return nil, classifyValidationErr(verr)
	}

	var entries []ListEntry
	walker := func(path string, d os.DirEntry) error {
		rel, _ := filepath.Rel(canon, path)
		if rel == "." {
			return nil
		}
		if p.Pattern != "" {
			matched, _ := filepath.Match(p.Pattern, d.Name())
			if !matched {
				return nil
			}
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		entry := ListEntry{Name: rel, IsDir: d.IsDir(), Size: info.Size(), Modified: info.ModTime().UTC().Format(time.RFC3339)}
		if p.IncludeHashes && !d.IsDir() {
			if regEntry, ok := e.reg.Get(path); ok {
				h := regEntry.Fingerprint
				entry.Hash = &h
			}
		}
		entries = append(entries, entry)
		return nil
	}

	if p.Recursive {
		err := filepath.WalkDir(canon, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			return walker(path, d)
		})
		if err != nil {
			return nil, protocol.NewError(protocol.ErrServerError, err.Error())
		}
	} else {
		dirEntries, err := os.ReadDir(canon)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, protocol.NewError(protocol.ErrFileNotFound, err.Error())
			}
			return nil, protocol.NewError(protocol.ErrDirNotFound, err.Error())
		}
		for _, d := range dirEntries {
			if err := walker(filepath.Join(canon, d.Name()), d); err != nil {
				return nil, protocol.NewError(protocol.ErrServerError, err.Error())
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// acquireShared/acquireExclusive wrap lockmgr acquisition with the engine's
// own in-flight waiter bookkeeping, used for the persisted pending-waiter
// list and for the pending-waiter list in status(path). Queue depths come
// from the lock manager itself.
func (e *Engine) acquireShared(ctx context.Context, path string, deadline time.Time) (lockmgr.Token, error) {
	id := e.registerWaiter(path, "shared", deadline)
	defer e.unregisterWaiter(id)
	return e.locks.AcquireShared(ctx, path, deadline)
}

func (e *Engine) acquireExclusive(ctx context.Context, path string, deadline time.Time) (lockmgr.Token, error) {
	id := e.registerWaiter(path, "exclusive", deadline)
	defer e.unregisterWaiter(id)
	return e.locks.AcquireExclusive(ctx, path, deadline)
}

func lockErrToCoord(err error) *protocol.CoordError {
	if errors.Is(err, lockmgr.ErrLockTimeout) {
		return protocol.NewError(protocol.ErrLockTimeout, err.Error())
	}
	return protocol.NewError(protocol.ErrServerError, err.Error())
}

// ioSyscall runs a blocking filesystem call on the calling goroutine while
// holding one slot of the engine's syscall semaphore (spec §5), which bounds
// how many such calls run at once.
func ioSyscall[T any](ctx context.Context, e *Engine, fn func() (T, error)) (T, error) {
	var zero T
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer e.sem.Release(1)
	return fn()
}

func ioSyscallVoid(ctx context.Context, e *Engine, fn func() error) (struct{}, error) {
	return ioSyscall(ctx, e, func() (struct{}, error) { return struct{}{}, fn() })
}

