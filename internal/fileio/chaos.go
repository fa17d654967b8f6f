package fileio

import (
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
)

// ChaosConfig controls fault injection in [Chaos]. The zero value disables
// all injection, so tests opt into exactly the failure modes they exercise.
type ChaosConfig struct {
	// WriteFailRate is the probability [0,1) that OpenFile for a write fails.
	WriteFailRate float64

	// SyncFailRate is the probability that File.Sync fails, simulating a
	// write that reached the page cache but not stable storage.
	SyncFailRate float64

	// RenameFailRate is the probability that Rename fails after the temp
	// file has already been synced, simulating the pre-rename crash window.
	RenameFailRate float64

	// ReadFailRate is the probability that ReadFile or Open fails.
	ReadFailRate float64

	// Rand, if set, is used instead of the default source. Tests that need
	// deterministic injection should set this to a seeded source.
	Rand *rand.Rand
}

// Chaos wraps a real [FS] and injects configurable failures, used to test
// that the atomic-write protocol in [AtomicWriter] and the hash registry's
// reconciliation path tolerate a crash at each step rather than corrupt
// state at rest.
type Chaos struct {
	inner FS
	cfg   ChaosConfig
	mu    sync.Mutex
}

// NewChaos wraps inner with fault injection governed by cfg.
func NewChaos(inner FS, cfg ChaosConfig) *Chaos {
	return &Chaos{inner: inner, cfg: cfg}
}

func (c *Chaos) roll(rate float64) bool {
	if rate <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.Rand != nil {
		return c.cfg.Rand.Float64() < rate
	}

	return rand.Float64() < rate
}

func (c *Chaos) Open(path string) (File, error) {
	if c.roll(c.cfg.ReadFailRate) {
		return nil, fmt.Errorf("fileio/chaos: injected open failure for %q", path)
	}
	f, err := c.inner.Open(path)
	if err != nil {
		return nil, err
	}
	return &chaosFile{File: f, c: c}, nil
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 && c.roll(c.cfg.WriteFailRate) {
		return nil, fmt.Errorf("fileio/chaos: injected openfile failure for %q", path)
	}
	f, err := c.inner.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}
	return &chaosFile{File: f, c: c}, nil
}

func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if c.roll(c.cfg.ReadFailRate) {
		return nil, fmt.Errorf("fileio/chaos: injected read failure for %q", path)
	}
	return c.inner.ReadFile(path)
}

func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) { return c.inner.ReadDir(path) }

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error { return c.inner.MkdirAll(path, perm) }

func (c *Chaos) Stat(path string) (os.FileInfo, error) { return c.inner.Stat(path) }

func (c *Chaos) Exists(path string) (bool, error) { return c.inner.Exists(path) }

func (c *Chaos) Remove(path string) error { return c.inner.Remove(path) }

func (c *Chaos) Rename(oldpath, newpath string) error {
	if c.roll(c.cfg.RenameFailRate) {
		return fmt.Errorf("fileio/chaos: injected rename failure %q -> %q", oldpath, newpath)
	}
	return c.inner.Rename(oldpath, newpath)
}

var _ FS = (*Chaos)(nil)

// chaosFile wraps an open [File] to inject Sync failures — the step right
// before the atomic-rename's crash-safety guarantee takes over.
type chaosFile struct {
	File
	c *Chaos
}

func (f *chaosFile) Sync() error {
	if f.c.roll(f.c.cfg.SyncFailRate) {
		return fmt.Errorf("fileio/chaos: injected sync failure")
	}
	return f.File.Sync()
}

var _ File = (*chaosFile)(nil)
