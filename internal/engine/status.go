package engine

import (
	"time"

	"github.com/agentfs/coord/internal/pathvalidate"
	"github.com/agentfs/coord/internal/persistence"
	"github.com/agentfs/coord/internal/protocol"
)

// PendingWaiter is one entry of a path's pending-waiter list (spec §4.8.8):
// the waiter's lock mode, when it started waiting, and its deadline, if any.
type PendingWaiter struct {
	Type     string    `json:"type"`
	QueuedAt time.Time `json:"queued_at"`
	Deadline time.Time `json:"deadline,omitempty"`
}

// GlobalStatus is status()'s response when called without a path.
type GlobalStatus struct {
	Version          string   `json:"version"`
	UptimeSeconds    int64    `json:"uptime_seconds"`
	Transport        string   `json:"transport"`
	TrackedFileCount int      `json:"tracked_file_count"`
	TotalQueueDepth  int      `json:"total_queue_depth"`
	BaseDirectories  []string `json:"base_directories"`
}

// PathStatus is status(path)'s response.
type PathStatus struct {
	Exists        bool            `json:"exists"`
	Hash          string          `json:"hash,omitempty"`
	LockMode      string          `json:"lock_mode"`
	QueueDepth    int             `json:"queue_depth"`
	ActiveReaders int             `json:"active_readers"`
	Waiters       []PendingWaiter `json:"waiters,omitempty"`
}

// Status implements spec §4.8.8. Without a path it reports the process-wide
// view; with one it reports per-path lock and registry state.
func (e *Engine) Status(path string) (GlobalStatus, *PathStatus, *protocol.CoordError) {
	if path == "" {
		return GlobalStatus{
			Version:          Version,
			UptimeSeconds:    int64(time.Since(e.startTime).Seconds()),
			Transport:        "mcp-stdio",
			TrackedFileCount: e.reg.Len(),
			TotalQueueDepth:  e.locks.TotalQueueDepth(),
			BaseDirectories:  e.settings.BaseDirectories,
		}, nil, nil
	}

	// mayNotExist=true: status() on a missing path reports Exists=false, not
	// invalid-path, the same setting write uses for its not-yet-created
	// target; read, update, delete and a rename's source resolve with false.
	canon, verr := e.validator.Resolve(path, pathvalidate.OpStatus, true)
	if verr != nil {
		return GlobalStatus{}, nil, classifyValidationErr(verr)
	}

	entry, tracked := e.reg.Get(canon)
	stats := e.locks.Stats(canon)
	exists, _ := e.io.Exists(canon)

	ps := &PathStatus{
		Exists:        exists,
		LockMode:      stats.Mode,
		QueueDepth:    stats.QueueDepth,
		ActiveReaders: stats.SharedHolders,
		Waiters:       pendingWaitersOf(e.waitersForPath(canon)),
	}
	if tracked {
		ps.Hash = entry.Fingerprint
	}

	return GlobalStatus{}, ps, nil
}

func pendingWaitersOf(records []persistence.WaiterRecord) []PendingWaiter {
	if len(records) == 0 {
		return nil
	}

	out := make([]PendingWaiter, 0, len(records))
	for _, r := range records {
		w := PendingWaiter{Type: r.Mode, QueuedAt: time.UnixMilli(r.QueuedAtEpoch)}
		if r.DeadlineEpoch > 0 {
			w.Deadline = time.UnixMilli(r.DeadlineEpoch)
		}
		out = append(out, w)
	}
	return out
}
