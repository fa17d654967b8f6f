// Package lockmgr implements the per-path FIFO lock manager (L7): shared
// and exclusive holders, shared-coalescing on exclusive release, waiter
// deadlines, and cancellation. It runs entirely in-process — the engine is
// the sole arbiter for every canonical path, so there is no cross-process
// flock involved, only goroutine-local queues guarded by short,
// non-yielding critical sections (spec §5's "suspension points" contract).
package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a waiter's deadline elapses before grant.
var ErrLockTimeout = errors.New("lockmgr: lock timeout")

// ErrInvalidPath is returned by AcquireTwoExclusive when both paths
// normalize to the same canonical path.
var ErrInvalidPath = errors.New("lockmgr: cannot acquire the same path twice")

type mode int

const (
	modeNone mode = iota
	modeShared
	modeExclusive
)

// Token is the opaque holder handle returned by a successful acquire,
// required to release the same lock.
type Token struct {
	path string
	mode mode
}

// Path returns the canonical path this token was acquired for.
func (t Token) Path() string { return t.path }

type waiter struct {
	mode    mode
	ordinal uint64
	ready   chan struct{}
}

type pathState struct {
	mu          sync.Mutex
	mode        mode
	sharedCount int
	queue       []*waiter
	nextOrdinal uint64
}

// QueueStats is a point-in-time view of one path's lock state, used by
// status().
type QueueStats struct {
	Mode          string
	SharedHolders int
	QueueDepth    int
}

// Manager owns every path's lock state. The zero value is not usable; use
// [New].
type Manager struct {
	mu    sync.Mutex
	paths map[string]*pathState
}

// New builds an empty Manager.
func New() *Manager {
	return &Manager{paths: make(map[string]*pathState)}
}

func (m *Manager) state(path string) *pathState {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps, ok := m.paths[path]
	if !ok {
		ps = &pathState{}
		m.paths[path] = ps
	}
	return ps
}

func (m *Manager) maybeReclaim(path string, ps *pathState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.mode == modeNone && len(ps.queue) == 0 {
		if current, ok := m.paths[path]; ok && current == ps {
			delete(m.paths, path)
		}
	}
}

// AcquireShared acquires a shared (read) lock on path, queueing if
// necessary, honoring ctx cancellation and deadline.
func (m *Manager) AcquireShared(ctx context.Context, path string, deadline time.Time) (Token, error) {
	return m.acquire(ctx, path, modeShared, deadline)
}

// AcquireExclusive acquires an exclusive (write) lock on path.
func (m *Manager) AcquireExclusive(ctx context.Context, path string, deadline time.Time) (Token, error) {
	return m.acquire(ctx, path, modeExclusive, deadline)
}

func (m *Manager) acquire(ctx context.Context, path string, want mode, deadline time.Time) (Token, error) {
	ps := m.state(path)

	ps.mu.Lock()
	// Read admission: a fresh shared request may skip the queue only if the
	// lock is free or already shared AND no earlier waiter is queued, so a
	// stream of reads cannot starve a waiting writer.
	if len(ps.queue) == 0 {
		if want == modeShared && ps.mode != modeExclusive {
			ps.mode = modeShared
			ps.sharedCount++
			ps.mu.Unlock()
			return Token{path: path, mode: modeShared}, nil
		}
		if want == modeExclusive && ps.mode == modeNone {
			ps.mode = modeExclusive
			ps.mu.Unlock()
			return Token{path: path, mode: modeExclusive}, nil
		}
	}

	w := &waiter{mode: want, ordinal: ps.nextOrdinal, ready: make(chan struct{})}
	ps.nextOrdinal++
	ps.queue = append(ps.queue, w)
	ps.mu.Unlock()

	var timer *time.Timer
	var timerC <-chan time.Time
	if !deadline.IsZero() {
		timer = time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case <-w.ready:
		return Token{path: path, mode: want}, nil
	case <-timerC:
		return m.abort(path, ps, w, fmt.Errorf("%w: %s", ErrLockTimeout, path))
	case <-ctx.Done():
		return m.abort(path, ps, w, ctx.Err())
	}
}

// abort handles a waiter whose deadline or context fired. If the waiter was
// still queued it is removed cleanly. If it had already been granted in the
// narrow race between signal-fired and lock-acquired, the grant is honored
// and immediately released so the path is never left with a phantom holder.
func (m *Manager) abort(path string, ps *pathState, w *waiter, abortErr error) (Token, error) {
	ps.mu.Lock()
	removed := false
	for i, q := range ps.queue {
		if q == w {
			ps.queue = append(ps.queue[:i], ps.queue[i+1:]...)
			removed = true
			break
		}
	}
	ps.mu.Unlock()

	if removed {
		return Token{}, abortErr
	}

	<-w.ready
	m.release(path, ps, w.mode)
	return Token{}, abortErr
}

// AcquireTwoExclusive acquires exclusive locks on both pathA and pathB,
// sorted lexicographically to make a consistent global order across all
// callers and prevent deadlock cycles. Used only by rename.
func (m *Manager) AcquireTwoExclusive(ctx context.Context, pathA, pathB string, deadline time.Time) (Token, Token, error) {
	if pathA == pathB {
		return Token{}, Token{}, ErrInvalidPath
	}

	ordered := []string{pathA, pathB}
	sort.Strings(ordered)

	first, err := m.AcquireExclusive(ctx, ordered[0], deadline)
	if err != nil {
		return Token{}, Token{}, err
	}

	second, err := m.AcquireExclusive(ctx, ordered[1], deadline)
	if err != nil {
		m.Release(first)
		return Token{}, Token{}, err
	}

	if ordered[0] == pathA {
		return first, second, nil
	}
	return second, first, nil
}

// Release releases a previously-acquired token.
func (m *Manager) Release(t Token) {
	if t.path == "" {
		return
	}
	ps := m.state(t.path)
	m.release(t.path, ps, t.mode)
}

func (m *Manager) release(path string, ps *pathState, held mode) {
	ps.mu.Lock()
	switch held {
	case modeShared:
		ps.sharedCount--
		if ps.sharedCount <= 0 {
			ps.sharedCount = 0
			ps.mode = modeNone
			promote(ps)
		}
	case modeExclusive:
		ps.mode = modeNone
		promote(ps)
	}
	ps.mu.Unlock()

	m.maybeReclaim(path, ps)
}

// promote must be called with ps.mu held and ps.mode == modeNone. It grants
// the queue head, then — if the head was shared — keeps granting a
// contiguous run of further shared waiters, stopping as soon as it meets an
// exclusive waiter (whose position pins the promotion horizon).
func promote(ps *pathState) {
	for len(ps.queue) > 0 {
		head := ps.queue[0]

		if head.mode == modeShared {
			ps.queue = ps.queue[1:]
			ps.mode = modeShared
			ps.sharedCount++
			close(head.ready)
			continue
		}

		if ps.mode == modeNone {
			ps.queue = ps.queue[1:]
			ps.mode = modeExclusive
			close(head.ready)
		}
		break
	}
}

// Stats returns a snapshot of path's lock state for status().
func (m *Manager) Stats(path string) QueueStats {
	m.mu.Lock()
	ps, ok := m.paths[path]
	m.mu.Unlock()
	if !ok {
		return QueueStats{Mode: "none"}
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	modeStr := "none"
	switch ps.mode {
	case modeShared:
		modeStr = "shared"
	case modeExclusive:
		modeStr = "exclusive"
	}

	return QueueStats{Mode: modeStr, SharedHolders: ps.sharedCount, QueueDepth: len(ps.queue)}
}

// TotalQueueDepth sums queue depth across every tracked path, for the
// process-wide status() view.
func (m *Manager) TotalQueueDepth() int {
	m.mu.Lock()
	paths := make([]*pathState, 0, len(m.paths))
	for _, ps := range m.paths {
		paths = append(paths, ps)
	}
	m.mu.Unlock()

	total := 0
	for _, ps := range paths {
		ps.mu.Lock()
		total += len(ps.queue)
		ps.mu.Unlock()
	}
	return total
}

// TrackedPathCount returns the number of paths with non-idle lock state.
func (m *Manager) TrackedPathCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.paths)
}
