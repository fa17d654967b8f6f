// Package engine implements the Operation Layer (L9) plus status (L10) and
// health/shutdown (L11): it composes the path validator, lock manager, file
// I/O, hash registry, diff engine, watcher, and persistence into the
// read/write/update/delete/rename/append/list/status CRUD surface and their
// batch variants described in spec §4.8.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/agentfs/coord/internal/diffengine"
	"github.com/agentfs/coord/internal/fileio"
	"github.com/agentfs/coord/internal/lockmgr"
	"github.com/agentfs/coord/internal/pathvalidate"
	"github.com/agentfs/coord/internal/persistence"
	"github.com/agentfs/coord/internal/registry"
	"github.com/agentfs/coord/internal/watcher"
)

// Settings is the pre-validated, immutable configuration the engine
// consumes at construction time (spec §6 "Configuration consumed"). The
// core never re-reads or re-parses configuration; hot-reload is out of
// scope.
type Settings struct {
	BaseDirectories          []string
	DefaultTimeout           time.Duration
	MaxTimeout               time.Duration
	DefaultEncoding          string
	DiffContextLines         int
	MaxFileSizeBytes         int64
	AccessRules              []pathvalidate.Rule
	DefaultDestructivePolicy pathvalidate.Action
	SyscallWorkerPoolSize    int64

	PersistenceEnabled bool
	PersistenceConfig  persistence.Config

	WatcherEnabled bool
	WatcherOptions watcher.Options
}

// Engine is the process-wide coordination service. Construct one with
// [New], call [Engine.Start] to bring up the watcher/persistence
// background workers, and [Engine.Shutdown] to drain gracefully.
type Engine struct {
	settings Settings
	logger   *slog.Logger

	validator *pathvalidate.Validator
	locks     *lockmgr.Manager
	io        *fileio.IO
	reg       *registry.Registry
	sem       *semaphore.Weighted

	watcher *watcher.Watcher
	persist *persistence.Persistence

	startTime time.Time

	shuttingDown atomic.Bool

	waitersMu sync.Mutex
	waiters   map[string]persistence.WaiterRecord

	inFlight atomic.Int64
}

// New builds an Engine from validated settings. logger may be nil, in which
// case [slog.Default] is used.
func New(settings Settings, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	validator, err := pathvalidate.New(settings.BaseDirectories, settings.AccessRules, settings.DefaultDestructivePolicy)
	if err != nil {
		return nil, err
	}

	poolSize := settings.SyscallWorkerPoolSize
	if poolSize <= 0 {
		poolSize = 32
	}

	fs := fileio.NewReal()
	reg := registry.New()

	e := &Engine{
		settings:  settings,
		logger:    logger,
		validator: validator,
		locks:     lockmgr.New(),
		io:        fileio.New(fs, settings.MaxFileSizeBytes),
		reg:       reg,
		sem:       semaphore.NewWeighted(poolSize),
		startTime: time.Now(),
		waiters:   make(map[string]persistence.WaiterRecord),
	}

	if settings.WatcherEnabled {
		opts := settings.WatcherOptions
		opts.Logger = logger
		e.watcher = watcher.New(settings.BaseDirectories, reg, opts)
	}

	if settings.PersistenceEnabled {
		cfg := settings.PersistenceConfig
		cfg.Logger = logger
		e.persist = persistence.New(cfg, reg, e)
	}

	return e, nil
}

// Start recovers any persisted snapshot and starts the background watcher.
// Must be called once before serving requests.
func (e *Engine) Start(ctx context.Context) error {
	if e.persist != nil {
		res, err := e.persist.Load()
		if err != nil {
			return err
		}
		valid := persistence.Revalidate(e.logger, res.Entries)
		e.reg.Restore(valid)
	}

	if e.watcher != nil {
		if err := e.watcher.Start(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Shutdown drains the engine in the literal order spec §9 mandates:
// refuse new waiters, wait for current holders to finish, flush the
// persistence buffer, then stop the watcher.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.shuttingDown.Store(true)

	done := make(chan struct{})
	go func() {
		for e.locks.TotalQueueDepth() > 0 || e.inFlight.Load() > 0 {
			select {
			case <-ctx.Done():
				close(done)
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	var flushErr error
	if e.persist != nil {
		flushErr = e.persist.Flush()
	}

	if e.watcher != nil {
		e.watcher.Stop()
	}

	return flushErr
}

// Health reports the §6 health() view.
type Health struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Health returns the current readiness view.
func (e *Engine) Health() Health {
	status := "ok"
	if e.shuttingDown.Load() {
		status = "draining"
	}
	return Health{Status: status, Version: Version, UptimeSeconds: int64(time.Since(e.startTime).Seconds())}
}

// Version is the engine's build identifier, surfaced through health() and
// status().
const Version = "0.1.0"

func (e *Engine) refusingNewWork() bool { return e.shuttingDown.Load() }

func (e *Engine) deadlineFor(timeout time.Duration) time.Time {
	if timeout <= 0 {
		timeout = e.settings.DefaultTimeout
	}
	if e.settings.MaxTimeout > 0 && timeout > e.settings.MaxTimeout {
		timeout = e.settings.MaxTimeout
	}
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

func (e *Engine) registerWaiter(path, mode string, deadline time.Time) string {
	id := uuid.NewString()
	e.waitersMu.Lock()
	e.waiters[id] = persistence.WaiterRecord{
		Path:          path,
		Mode:          mode,
		Ordinal:       0,
		QueuedAtEpoch: time.Now().UnixMilli(),
		DeadlineEpoch: deadlineEpochMs(deadline),
	}
	e.waitersMu.Unlock()
	return id
}

// waitersForPath returns the currently pending waiters for canon, for
// status(path)'s per-path view.
func (e *Engine) waitersForPath(canon string) []persistence.WaiterRecord {
	e.waitersMu.Lock()
	defer e.waitersMu.Unlock()

	var out []persistence.WaiterRecord
	for _, w := range e.waiters {
		if w.Path == canon {
			out = append(out, w)
		}
	}
	return out
}

func (e *Engine) unregisterWaiter(id string) {
	e.waitersMu.Lock()
	delete(e.waiters, id)
	e.waitersMu.Unlock()
}

func deadlineEpochMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// PendingWaiters implements [persistence.WaiterSource].
func (e *Engine) PendingWaiters() []persistence.WaiterRecord {
	e.waitersMu.Lock()
	defer e.waitersMu.Unlock()

	out := make([]persistence.WaiterRecord, 0, len(e.waiters))
	for _, w := range e.waiters {
		out = append(out, w)
	}
	return out
}

func (e *Engine) markDirty() {
	if e.persist != nil {
		e.persist.MarkDirty()
	}
}

func (e *Engine) computeDiff(expected, current string) diffengine.Diff {
	ctxLines := e.settings.DiffContextLines
	if ctxLines <= 0 {
		ctxLines = diffengine.DefaultContextLines
	}
	return diffengine.Compute(expected, current, ctxLines)
}
