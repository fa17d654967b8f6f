// Package watcher observes out-of-band filesystem changes under the
// engine's configured base directories and republishes fingerprints into
// the hash registry (L6). It debounces bursts of OS events per path so an
// editor's temp-write-then-rename save pattern collapses into one logical
// "modified" update, and it never blocks CRUD operations — all processing
// happens on its own goroutine.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentfs/coord/internal/hashfp"
	"github.com/agentfs/coord/internal/registry"
)

// Registry is the subset of [registry.Registry] the watcher needs, kept
// narrow so tests can substitute a fake.
type Registry interface {
	Put(path, fingerprint string, source registry.Source)
	Delete(path string)
}

// Options configures a Watcher.
type Options struct {
	// Debounce coalesces bursts of events on the same path into one
	// logical update. Default 100ms per spec §4.6.
	Debounce time.Duration

	// PollInterval, when non-zero, forces the polling fallback even if the
	// native watcher is available (operator override for exotic mounts).
	PollInterval time.Duration

	Logger *slog.Logger
}

// Watcher observes base directories and keeps reg up to date.
type Watcher struct {
	reg     Registry
	opts    Options
	logger  *slog.Logger
	bases   []string

	mu       sync.Mutex
	pending  map[string]*time.Timer
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Watcher over the given base directories. Start must be
// called to begin observing.
func New(bases []string, reg Registry, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Watcher{
		reg:     reg,
		opts:    opts,
		logger:  opts.Logger,
		bases:   bases,
		pending: make(map[string]*time.Timer),
		stopCh:  make(chan struct{}),
	}
}

// Start begins watching in the background. It prefers the native fsnotify
// backend; if construction or any base directory's AddWatch fails (inotify
// limits, unsupported filesystem), or PollInterval was explicitly
// configured, it falls back to polling.
func (w *Watcher) Start(ctx context.Context) error {
	if w.opts.PollInterval > 0 {
		w.logger.Info("watcher starting in polling mode (configured)", "interval", w.opts.PollInterval)
		w.wg.Add(1)
		go w.runPolling(ctx, w.opts.PollInterval)
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("native watcher unavailable, falling back to polling", "error", err)
		w.wg.Add(1)
		go w.runPolling(ctx, defaultPollInterval)
		return nil
	}

	ok := true
	for _, base := range w.bases {
		if err := addRecursive(fw, base); err != nil {
			w.logger.Warn("failed to watch base directory, falling back to polling", "path", base, "error", err)
			ok = false
			break
		}
	}

	if !ok {
		_ = fw.Close()
		w.wg.Add(1)
		go w.runPolling(ctx, defaultPollInterval)
		return nil
	}

	w.wg.Add(1)
	go w.runNative(ctx, fw)
	return nil
}

// Stop halts the watcher goroutine and waits for it to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) runNative(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()
	defer fw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	switch {
	case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
		w.debounce(ev.Name, w.reconcileModified)
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.debounce(ev.Name, w.reconcileDeleted)
	}
}

// debounce schedules fn to run after w.opts.Debounce, resetting any
// already-pending timer for the same path so a burst collapses to one call.
func (w *Watcher) debounce(path string, fn func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}

	w.pending[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		fn(path)
	})
}

func (w *Watcher) reconcileModified(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			w.reg.Delete(path)
			return
		}
		w.logger.Warn("watcher failed to read modified file", "path", path, "error", err)
		return
	}

	w.reg.Put(path, hashfp.Of(data), registry.SourceWatcherEvent)
}

func (w *Watcher) reconcileDeleted(path string) {
	if _, err := os.Stat(path); err == nil {
		// The path was recreated before the debounce fired (e.g. a rename
		// pattern); treat it as a modification instead of a deletion.
		w.reconcileModified(path)
		return
	}
	w.reg.Delete(path)
}

const defaultPollInterval = 2 * time.Second

// runPolling is the fallback observer used when the native watcher cannot
// be constructed or a watch cannot be added. It periodically stats every
// base directory tree and reconciles entries whose mtime or existence
// changed since the previous pass.
func (w *Watcher) runPolling(ctx context.Context, interval time.Duration) {
	defer w.wg.Done()

	seen := make(map[string]time.Time)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	scan := func() {
		current := make(map[string]time.Time)
		for _, base := range w.bases {
			_ = filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return nil
				}
				info, err := d.Info()
				if err != nil {
					return nil
				}
				current[path] = info.ModTime()
				return nil
			})
		}

		for path, mtime := range current {
			if prev, ok := seen[path]; !ok || !prev.Equal(mtime) {
				w.reconcileModified(path)
			}
		}
		for path := range seen {
			if _, ok := current[path]; !ok {
				w.reconcileDeleted(path)
			}
		}
		seen = current
	}

	scan()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			scan()
		}
	}
}
