package fileio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// ErrDirSync indicates the parent directory could not be synced after rename.
//
// When returned, the new file is already in place; durability of the rename
// itself is not guaranteed until the directory entry is flushed too. Callers
// detect this with errors.Is(err, ErrDirSync).
var ErrDirSync = errors.New("fileio: dir sync failed")

// AtomicWriter writes files atomically using temp-file-plus-rename.
//
// It never writes through the destination path directly: a write either
// lands whole via rename or not at all, so a crash mid-write cannot leave a
// partial file at the target path.
type AtomicWriter struct {
	fs FS
}

// NewAtomicWriter builds an AtomicWriter over fs. Panics if fs is nil.
func NewAtomicWriter(fs FS) *AtomicWriter {
	if fs == nil {
		panic("fileio: fs is nil")
	}

	return &AtomicWriter{fs: fs}
}

// WriteOptions configures [AtomicWriter.Write].
type WriteOptions struct {
	// SyncDir controls whether the parent directory is fsynced after rename.
	SyncDir bool

	// Perm is the permission the final file is chmod'd to, regardless of umask.
	Perm os.FileMode
}

// DefaultWriteOptions returns the options used by the operation layer.
func (*AtomicWriter) DefaultWriteOptions() WriteOptions {
	return WriteOptions{SyncDir: true, Perm: 0o644}
}

// Write writes data from r to path atomically and durably: temp file in the
// same directory, fsync, rename over path, fsync the parent directory.
//
// If dir-sync fails the rename has already landed; the returned error wraps
// [ErrDirSync] so callers can log it without treating the write as failed.
func (w *AtomicWriter) Write(path string, r io.Reader, opts WriteOptions) error {
	if r == nil {
		panic("fileio: reader is nil")
	}

	if path == "" {
		return errors.New("fileio: path is empty")
	}

	if opts.Perm == 0 {
		return errors.New("fileio: opts.Perm must be non-zero")
	}

	dir, base := filepath.Split(path)
	if base == "" || base == "." {
		return fmt.Errorf("fileio: invalid path %q", path)
	}

	if dir == "" {
		dir = "."
	}

	dir = filepath.Clean(dir)

	tmp, tmpPath, err := createTempFile(w.fs, dir, base, opts.Perm)
	if err != nil {
		return err
	}

	cleanup := func() error {
		return errors.Join(closeFile("temp file", tmpPath, tmp), removeIfExists(w.fs, tmpPath))
	}

	if err := tmp.Chmod(opts.Perm); err != nil {
		return errors.Join(fmt.Errorf("fileio: chmod temp file %q: %w", tmpPath, err), cleanup())
	}

	if _, err := io.Copy(tmp, r); err != nil {
		return errors.Join(fmt.Errorf("fileio: write temp file %q: %w", tmpPath, err), cleanup())
	}

	if err := tmp.Sync(); err != nil {
		return errors.Join(fmt.Errorf("fileio: sync temp file %q: %w", tmpPath, err), cleanup())
	}

	if err := renameWithRetry(w.fs, tmpPath, path); err != nil {
		return errors.Join(fmt.Errorf("fileio: rename %q -> %q: %w", tmpPath, path, err), cleanup())
	}

	cleanupErr := cleanup()

	if opts.SyncDir {
		if err := syncDir(w.fs, dir); err != nil {
			return errors.Join(err, cleanupErr)
		}
	}

	return nil
}

// renameMaxAttempts bounds retrying the final rename when the target is
// transiently held open by another process (Windows sharing violations;
// some network filesystems return a similar transient permission error).
const renameMaxAttempts = 5

func renameWithRetry(fs FS, oldPath, newPath string) error {
	backoff := 5 * time.Millisecond
	var err error
	for attempt := 0; attempt < renameMaxAttempts; attempt++ {
		err = fs.Rename(oldPath, newPath)
		if err == nil || !isRetryableRenameErr(err) {
			return err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return err
}

func isRetryableRenameErr(err error) bool {
	if errors.Is(err, os.ErrPermission) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "sharing violation") || strings.Contains(msg, "access is denied")
}

const maxTempFileAttempts = 10000

var tempFileCounter atomic.Uint64

func createTempFile(fs FS, dir, base string, perm os.FileMode) (File, string, error) {
	for range maxTempFileAttempts {
		seq := tempFileCounter.Add(1)
		candidate := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d", base, seq))

		f, err := fs.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err == nil {
			return f, candidate, nil
		}

		if os.IsExist(err) {
			continue
		}

		return nil, "", fmt.Errorf("fileio: create temp file in %q: %w", dir, err)
	}

	return nil, "", fmt.Errorf("fileio: exhausted temp file attempts in %q", dir)
}

func syncDir(fs FS, dir string) error {
	f, err := fs.Open(dir)
	if err != nil {
		return errors.Join(ErrDirSync, fmt.Errorf("open dir %q: %w", dir, err))
	}

	if err := f.Sync(); err != nil {
		return errors.Join(ErrDirSync, fmt.Errorf("%q: %w", dir, err), closeFile("dir", dir, f))
	}

	return closeFile("dir", dir, f)
}

func closeFile(kind, path string, f File) error {
	if err := f.Close(); err != nil {
		return fmt.Errorf("fileio: close %s %q: %w", kind, path, err)
	}

	return nil
}

func removeIfExists(fs FS, path string) error {
	if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fileio: remove temp file %q: %w", path, err)
	}

	return nil
}
