// Package fileio implements the crash-safe file I/O and content-hash layer
// (L3 in the design) that every CRUD operation in the engine builds on.
//
// The package is split into three layers:
//   - [FS] and [File]: the OS-facing abstraction, so tests can substitute
//     [Chaos] for [Real] without touching call sites.
//   - [AtomicWriter]: temp-file + fsync + rename, the only way content ever
//     reaches its final path.
//   - the operation-shaped helpers on [IO] (Read, WriteCreateOnly,
//     Overwrite, Append, Delete, Rename) that the
//     engine's operation layer calls directly.
package fileio

import (
	"io"
	"os"
)

// File represents an OS-backed open file descriptor.
//
// Implementations must behave like [os.File]: [File.Fd] must return a file
// descriptor usable with syscalls for as long as the file stays open.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the file descriptor. See [os.File.Fd].
	Fd() uintptr

	// Stat returns file info for the open handle. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to stable storage. See [os.File.Sync].
	Sync() error

	// Chmod changes the mode of the open file. See [os.File.Chmod].
	Chmod(mode os.FileMode) error
}

// FS defines the filesystem operations the I/O layer needs.
//
// Two implementations are provided: [Real] for production and [Chaos] for
// fault-injection tests of the atomic-write and hash-registry paths.
//
// Paths use OS semantics (like [os] and [path/filepath]), not the
// slash-separated paths of the standard library io/fs package.
type FS interface {
	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// OpenFile opens a file with explicit flags and permissions. See [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// ReadDir reads a directory and returns its entries, sorted by name. See [os.ReadDir].
	ReadDir(path string) ([]os.DirEntry, error)

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether a path exists.
	// Returns (false, nil) if not found, (false, err) for other failures.
	Exists(path string) (bool, error)

	// Remove deletes a file or empty directory. See [os.Remove].
	Remove(path string) error

	// Rename moves/renames a path. Atomic on the same filesystem. See [os.Rename].
	Rename(oldpath, newpath string) error
}

// Compile-time interface check.
var _ File = (*os.File)(nil)
