// Package persistence implements the optional snapshot-and-recovery layer
// (L8): a debounced on-disk snapshot of the hash registry plus pending
// waiter metadata (never file contents), and startup recovery that purges
// expired waiters and revalidates every registry entry against the actual
// file bytes.
package persistence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	natomic "github.com/natefinch/atomic"

	"github.com/agentfs/coord/internal/hashfp"
	"github.com/agentfs/coord/internal/registry"
)

// SchemaVersion is bumped whenever the on-disk snapshot shape changes.
// Implementations must tolerate missing or older versions by discarding and
// rebuilding rather than failing to boot.
const SchemaVersion = 1

// WaiterRecord is the persisted shape of one pending lock waiter.
type WaiterRecord struct {
	Path          string `json:"path"`
	Mode          string `json:"mode"`
	Ordinal       uint64 `json:"ordinal"`
	QueuedAtEpoch int64  `json:"queued_at_epoch_ms"`
	DeadlineEpoch int64  `json:"deadline_epoch_ms"`
}

// Snapshot is the full on-disk shape.
type Snapshot struct {
	SchemaVersion int                      `json:"schema_version"`
	WrittenAt     int64                    `json:"written_at_epoch_ms"`
	Entries       map[string]SnapshotEntry `json:"entries"`
	Waiters       []WaiterRecord           `json:"pending_waiters"`
}

// SnapshotEntry is the persisted shape of one registry record. Only the
// fingerprint is carried — source/observed-at are reconstructed fresh at
// load time since they describe in-process provenance, not durable state.
type SnapshotEntry struct {
	Fingerprint string `json:"fingerprint"`
}

// WaiterSource supplies the current pending-waiter list at snapshot time.
// Implemented by the engine, which is the only component that knows about
// outstanding lock waiters.
type WaiterSource interface {
	PendingWaiters() []WaiterRecord
}

// Persistence debounces registry mutations into periodic snapshot writes
// and performs startup recovery.
type Persistence struct {
	stateFile     string
	debounce      time.Duration
	ttlMultiplier float64
	logger        *slog.Logger

	reg    *registry.Registry
	waiter WaiterSource

	mu     sync.Mutex
	timer  *time.Timer
	stopCh chan struct{}
	wg     sync.WaitGroup
	dirty  bool
}

// Config configures a Persistence instance, mirroring the
// `persistence.*` configuration keys in spec §6.
type Config struct {
	Enabled       bool
	StateFile     string
	WriteDebounce time.Duration
	TTLMultiplier float64
	Logger        *slog.Logger
}

// New builds a Persistence layer writing to cfg.StateFile. reg is the
// registry to snapshot; waiter supplies pending-waiter metadata at flush
// time.
func New(cfg Config, reg *registry.Registry, waiter WaiterSource) *Persistence {
	if cfg.WriteDebounce <= 0 {
		cfg.WriteDebounce = time.Second
	}
	if cfg.TTLMultiplier <= 0 {
		cfg.TTLMultiplier = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Persistence{
		stateFile:     cfg.StateFile,
		debounce:      cfg.WriteDebounce,
		ttlMultiplier: cfg.TTLMultiplier,
		logger:        cfg.Logger,
		reg:           reg,
		waiter:        waiter,
		stopCh:        make(chan struct{}),
	}
}

// MarkDirty schedules a debounced flush if one is not already pending.
// Called by the engine after any registry mutation when persistence is
// enabled.
func (p *Persistence) MarkDirty() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.dirty = true
	if p.timer != nil {
		return
	}

	p.timer = time.AfterFunc(p.debounce, func() {
		p.mu.Lock()
		p.timer = nil
		shouldWrite := p.dirty
		p.dirty = false
		p.mu.Unlock()

		if shouldWrite {
			if err := p.flush(); err != nil {
				p.logger.Warn("persistence flush failed", "error", err)
			}
		}
	})
}

// Flush writes a snapshot immediately, bypassing the debounce timer. Used
// on graceful shutdown.
func (p *Persistence) Flush() error {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.dirty = false
	p.mu.Unlock()

	return p.flush()
}

func (p *Persistence) flush() error {
	entries := p.reg.Snapshot()
	snapEntries := make(map[string]SnapshotEntry, len(entries))
	for path, e := range entries {
		snapEntries[path] = SnapshotEntry{Fingerprint: e.Fingerprint}
	}

	var waiters []WaiterRecord
	if p.waiter != nil {
		waiters = p.waiter.PendingWaiters()
	}

	snap := Snapshot{
		SchemaVersion: SchemaVersion,
		WrittenAt:     timeNowMs(),
		Entries:       snapEntries,
		Waiters:       waiters,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(p.stateFile), 0o755); err != nil {
		return fmt.Errorf("persistence: mkdir state dir: %w", err)
	}

	if err := natomic.WriteFile(p.stateFile, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("persistence: write snapshot: %w", err)
	}

	return nil
}

// LoadResult is the outcome of [Load]: the usable registry entries (pending
// revalidation against disk by the caller) and the non-expired waiters.
type LoadResult struct {
	Entries map[string]registry.Entry
	Waiters []WaiterRecord
}

// Load reads the snapshot file if present, discards any schema version it
// does not recognize, and drops waiters whose deadline has already passed.
// It does not revalidate entries against disk — callers must do that with
// [Revalidate] before trusting the registry.
func (p *Persistence) Load() (LoadResult, error) {
	data, err := os.ReadFile(p.stateFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return LoadResult{}, nil
		}
		return LoadResult{}, fmt.Errorf("persistence: read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		p.logger.Warn("persistence: corrupt snapshot, discarding", "error", err)
		return LoadResult{}, nil
	}

	if snap.SchemaVersion != SchemaVersion {
		p.logger.Warn("persistence: unrecognized schema version, discarding", "version", snap.SchemaVersion)
		return LoadResult{}, nil
	}

	entries := make(map[string]registry.Entry, len(snap.Entries))
	for path, e := range snap.Entries {
		entries[path] = registry.Entry{Fingerprint: e.Fingerprint, Source: registry.SourceStartupRevalidation}
	}

	now := timeNowMs()
	var liveWaiters []WaiterRecord
	for _, w := range snap.Waiters {
		if p.effectiveDeadline(w, snap.WrittenAt) < now {
			p.logger.Info("persistence: dropping expired waiter on restart", "path", w.Path, "deadline_epoch_ms", w.DeadlineEpoch)
			continue
		}
		liveWaiters = append(liveWaiters, w)
	}

	return LoadResult{Entries: entries, Waiters: liveWaiters}, nil
}

// effectiveDeadline stretches a waiter's deadline by ttlMultiplier, measured
// from the moment the snapshot was written: a waiter that still had
// `remaining` ms of TTL left when the snapshot was taken is treated as good
// for `remaining * ttlMultiplier` ms after that, giving restored waiters
// extra grace to reconnect after a restart. A multiplier of 1 leaves the
// recorded deadline untouched.
func (p *Persistence) effectiveDeadline(w WaiterRecord, writtenAt int64) int64 {
	remaining := w.DeadlineEpoch - writtenAt
	if remaining <= 0 {
		return w.DeadlineEpoch
	}
	return writtenAt + int64(float64(remaining)*p.ttlMultiplier)
}

// Revalidate re-reads each candidate path's bytes and recomputes its
// fingerprint, returning only entries that still match. Mismatched or
// missing files are logged and dropped, never silently kept.
func Revalidate(logger *slog.Logger, entries map[string]registry.Entry) map[string]registry.Entry {
	valid := make(map[string]registry.Entry, len(entries))
	for path, e := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Info("persistence: dropping registry entry, file missing on restart", "path", path)
			continue
		}

		actual := hashfp.Of(data)
		if actual != e.Fingerprint {
			logger.Info("persistence: dropping stale registry entry on restart", "path", path)
			continue
		}

		valid[path] = registry.Entry{Fingerprint: actual, ObservedAt: time.Now(), Source: registry.SourceStartupRevalidation}
	}
	return valid
}

// timeNowMs is isolated so tests can't accidentally depend on wall-clock
// behavior beyond what's needed; production always uses real time.
func timeNowMs() int64 { return time.Now().UnixMilli() }
