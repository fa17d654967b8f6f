package fileio

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sentinel errors returned by this package. The operation layer maps these
// to the stable error-kind strings of the tool envelope; callers should use
// errors.Is rather than matching on message text.
var (
	ErrNotFound  = errors.New("fileio: file not found")
	ErrExists    = errors.New("fileio: file already exists")
	ErrTooLarge  = errors.New("fileio: file exceeds configured size limit")
	ErrIsDir     = errors.New("fileio: path is a directory")
	ErrNotDir    = errors.New("fileio: path is not a directory")
	ErrWrite     = errors.New("fileio: write failed")
	ErrDelete    = errors.New("fileio: delete failed")
	ErrRename    = errors.New("fileio: rename failed")
)

// IO composes an [FS] and an [AtomicWriter] into the operation-shaped helpers
// the engine's operation layer calls: bounded reads, create-only writes,
// appends, deletes, and crash-safe renames with a cross-filesystem fallback.
type IO struct {
	fs          FS
	writer      *AtomicWriter
	maxFileSize int64
}

// New builds an IO layer over fs with the given maximum file size in bytes.
// A maxFileSize of 0 disables the limit.
func New(fs FS, maxFileSize int64) *IO {
	return &IO{fs: fs, writer: NewAtomicWriter(fs), maxFileSize: maxFileSize}
}

// ReadResult is the outcome of a full-file read: the raw bytes (for hashing)
// plus the requested line window.
type ReadResult struct {
	Bytes         []byte
	Lines         []string
	TotalLines    int
	LinesReturned int
}

// Read reads the full file at path, computes over all of it, and slices out
// the [offset, offset+limit) line window. limit <= 0 means "to end".
func (io_ *IO) Read(path string, offset, limit int) (ReadResult, error) {
	data, err := io_.readAllChecked(path)
	if err != nil {
		return ReadResult{}, err
	}

	lines := splitLines(data)
	total := len(lines)

	if offset < 0 {
		offset = 0
	}

	var window []string
	if offset < total {
		end := total
		if limit > 0 && offset+limit < end {
			end = offset + limit
		}
		window = lines[offset:end]
	}

	return ReadResult{Bytes: data, Lines: window, TotalLines: total, LinesReturned: len(window)}, nil
}

func (io_ *IO) readAllChecked(path string) ([]byte, error) {
	info, err := io_.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("fileio: stat %q: %w", path, err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrIsDir, path)
	}

	if io_.maxFileSize > 0 && info.Size() > io_.maxFileSize {
		return nil, fmt.Errorf("%w: %s (%d bytes)", ErrTooLarge, path, info.Size())
	}

	data, err := io_.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fileio: read %q: %w", path, err)
	}

	if io_.maxFileSize > 0 && int64(len(data)) > io_.maxFileSize {
		return nil, fmt.Errorf("%w: %s (%d bytes)", ErrTooLarge, path, len(data))
	}

	return data, nil
}

// Stat returns file info, or ErrNotFound wrapped if the path is absent.
func (io_ *IO) Stat(path string) (os.FileInfo, error) {
	info, err := io_.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	return info, nil
}

// Exists reports whether path currently exists.
func (io_ *IO) Exists(path string) (bool, error) {
	return io_.fs.Exists(path)
}

// WriteCreateOnly atomically creates path with content. Fails with ErrExists
// if the file is already present (create-only semantics per write()).
func (io_ *IO) WriteCreateOnly(path string, content []byte, createDirs bool, perm os.FileMode) error {
	exists, err := io_.fs.Exists(path)
	if err != nil {
		return fmt.Errorf("fileio: check existence of %q: %w", path, err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}

	return io_.writeAtomic(path, content, createDirs, perm)
}

// Overwrite atomically replaces path's content, used by update() once
// contention has been ruled out. Does not require the file to pre-exist.
func (io_ *IO) Overwrite(path string, content []byte, createDirs bool, perm os.FileMode) error {
	return io_.writeAtomic(path, content, createDirs, perm)
}

func (io_ *IO) writeAtomic(path string, content []byte, createDirs bool, perm os.FileMode) error {
	if io_.maxFileSize > 0 && int64(len(content)) > io_.maxFileSize {
		return fmt.Errorf("%w: %s (%d bytes)", ErrTooLarge, path, len(content))
	}

	if createDirs {
		if err := io_.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("%w: mkdir parents of %q: %v", ErrWrite, path, err)
		}
	}

	opts := io_.writer.DefaultWriteOptions()
	if perm != 0 {
		opts.Perm = perm
	}

	if err := io_.writer.Write(path, bytes.NewReader(content), opts); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, path, err)
	}

	return nil
}

// Append opens path (creating it if createIfMissing) and writes content at
// the end, durably, preceded by separator only when the file already
// existed. Returns the whole-file bytes after
// the append so the caller can recompute the fingerprint.
func (io_ *IO) Append(path string, content []byte, separator string, createIfMissing, createDirs bool, perm os.FileMode) ([]byte, error) {
	exists, err := io_.fs.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("fileio: check existence of %q: %w", path, err)
	}

	if !exists {
		if !createIfMissing {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if createDirs {
			if err := io_.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("%w: mkdir parents of %q: %v", ErrWrite, path, err)
			}
		}
	}

	if perm == 0 {
		perm = 0o644
	}

	f, err := io_.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, perm)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q for append: %v", ErrWrite, path, err)
	}

	payload := content
	if exists && separator != "" {
		payload = append([]byte(separator), content...)
	}

	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: append to %q: %v", ErrWrite, path, err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: sync %q: %v", ErrWrite, path, err)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: close %q: %v", ErrWrite, path, err)
	}

	return io_.readAllChecked(path)
}

// Delete removes path. Returns ErrNotFound if it is already absent.
func (io_ *IO) Delete(path string) error {
	exists, err := io_.fs.Exists(path)
	if err != nil {
		return fmt.Errorf("fileio: check existence of %q: %w", path, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	if err := io_.fs.Remove(path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDelete, path, err)
	}

	return nil
}

// RenameResult reports whether the rename fell back to copy+delete because
// source and destination span filesystems.
type RenameResult struct {
	CrossFilesystem bool
}

// Rename moves oldPath to newPath. It first attempts [FS.Rename]; on a
// cross-device error it falls back to copy-then-delete and reports
// CrossFilesystem=true, matching the documented loss-of-atomicity contract.
func (io_ *IO) Rename(oldPath, newPath string, overwrite, createDirs bool) (RenameResult, error) {
	existsOld, err := io_.fs.Exists(oldPath)
	if err != nil {
		return RenameResult{}, fmt.Errorf("fileio: check existence of %q: %w", oldPath, err)
	}
	if !existsOld {
		return RenameResult{}, fmt.Errorf("%w: %s", ErrNotFound, oldPath)
	}

	existsNew, err := io_.fs.Exists(newPath)
	if err != nil {
		return RenameResult{}, fmt.Errorf("fileio: check existence of %q: %w", newPath, err)
	}
	if existsNew && !overwrite {
		return RenameResult{}, fmt.Errorf("%w: %s", ErrExists, newPath)
	}

	if createDirs {
		if err := io_.fs.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
			return RenameResult{}, fmt.Errorf("%w: mkdir parents of %q: %v", ErrRename, newPath, err)
		}
	}

	err = io_.fs.Rename(oldPath, newPath)
	if err == nil {
		return RenameResult{}, nil
	}

	if !isCrossDevice(err) {
		return RenameResult{}, fmt.Errorf("%w: %s -> %s: %v", ErrRename, oldPath, newPath, err)
	}

	if err := io_.copyThenDelete(oldPath, newPath); err != nil {
		return RenameResult{}, fmt.Errorf("%w: cross-filesystem %s -> %s: %v", ErrRename, oldPath, newPath, err)
	}

	return RenameResult{CrossFilesystem: true}, nil
}

func (io_ *IO) copyThenDelete(oldPath, newPath string) error {
	data, err := io_.fs.ReadFile(oldPath)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	info, err := io_.fs.Stat(oldPath)
	perm := os.FileMode(0o644)
	if err == nil {
		perm = info.Mode().Perm()
	}

	opts := io_.writer.DefaultWriteOptions()
	opts.Perm = perm
	if err := io_.writer.Write(newPath, bytes.NewReader(data), opts); err != nil {
		return fmt.Errorf("write destination: %w", err)
	}

	if err := io_.fs.Remove(oldPath); err != nil {
		return fmt.Errorf("remove source after copy: %w", err)
	}

	return nil
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return strings.Contains(strings.ToLower(linkErr.Err.Error()), "cross-device") ||
			strings.Contains(strings.ToLower(linkErr.Err.Error()), "invalid cross-device link")
	}
	return strings.Contains(strings.ToLower(err.Error()), "cross-device")
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}

	text := string(data)
	trimmed := strings.TrimSuffix(text, "\n")
	if trimmed == "" {
		return []string{""}
	}

	return strings.Split(trimmed, "\n")
}
