package persistence_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentfs/coord/internal/hashfp"
	"github.com/agentfs/coord/internal/persistence"
	"github.com/agentfs/coord/internal/registry"
)

type noWaiters struct{}

func (noWaiters) PendingWaiters() []persistence.WaiterRecord { return nil }

func TestFlushAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	stateFile := filepath.Join(dir, "state.json")

	reg := registry.New()
	reg.Put("/a.txt", "sha256:abc", registry.SourceInternalWrite)

	p := persistence.New(persistence.Config{StateFile: stateFile}, reg, noWaiters{})
	require.NoError(t, p.Flush())

	p2 := persistence.New(persistence.Config{StateFile: stateFile}, registry.New(), noWaiters{})
	res, err := p2.Load()
	require.NoError(t, err)
	require.Equal(t, "sha256:abc", res.Entries["/a.txt"].Fingerprint)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	p := persistence.New(persistence.Config{StateFile: filepath.Join(dir, "nope.json")}, registry.New(), noWaiters{})
	res, err := p.Load()
	require.NoError(t, err)
	require.Empty(t, res.Entries)
	require.Empty(t, res.Waiters)
}

func TestLoadDropsExpiredWaiters(t *testing.T) {
	dir := t.TempDir()
	stateFile := filepath.Join(dir, "state.json")

	reg := registry.New()
	waiters := fixedWaiters{
		{Path: "/a.txt", Mode: "exclusive", Ordinal: 1, DeadlineEpoch: time.Now().Add(-time.Hour).UnixMilli()},
		{Path: "/b.txt", Mode: "shared", Ordinal: 2, DeadlineEpoch: time.Now().Add(time.Hour).UnixMilli()},
	}

	p := persistence.New(persistence.Config{StateFile: stateFile}, reg, waiters)
	require.NoError(t, p.Flush())

	res, err := persistence.New(persistence.Config{StateFile: stateFile}, registry.New(), noWaiters{}).Load()
	require.NoError(t, err)
	require.Len(t, res.Waiters, 1)
	require.Equal(t, "/b.txt", res.Waiters[0].Path)
}

type fixedWaiters []persistence.WaiterRecord

func (f fixedWaiters) PendingWaiters() []persistence.WaiterRecord { return f }

func TestRevalidateDropsMismatchedAndMissing(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.txt")
	stale := filepath.Join(dir, "stale.txt")
	missing := filepath.Join(dir, "missing.txt")

	require.NoError(t, os.WriteFile(good, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(stale, []byte("changed"), 0o644))

	entries := map[string]registry.Entry{
		good:    {Fingerprint: hashfp.Of([]byte("x"))},
		stale:   {Fingerprint: hashfp.Of([]byte("original"))},
		missing: {Fingerprint: hashfp.Of([]byte("gone"))},
	}

	valid := persistence.Revalidate(slog.Default(), entries)
	require.Len(t, valid, 1)
	require.Contains(t, valid, good)
}

func TestLoadUnrecognizedSchemaVersionIsDiscarded(t *testing.T) {
	dir := t.TempDir()
	stateFile := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(stateFile, []byte(`{"schema_version":999,"entries":{}}`), 0o644))

	p := persistence.New(persistence.Config{StateFile: stateFile}, registry.New(), noWaiters{})
	res, err := p.Load()
	require.NoError(t, err)
	require.Empty(t, res.Entries)
}
