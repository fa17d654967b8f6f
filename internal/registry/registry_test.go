package registry_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentfs/coord/internal/registry"
)

func TestPutAndGet(t *testing.T) {
	r := registry.New()
	r.Put("/a.txt", "sha256:abc", registry.SourceInternalWrite)

	e, ok := r.Get("/a.txt")
	require.True(t, ok)
	require.Equal(t, "sha256:abc", e.Fingerprint)
	require.Equal(t, registry.SourceInternalWrite, e.Source)
}

func TestDeleteRemovesEntry(t *testing.T) {
	r := registry.New()
	r.Put("/a.txt", "sha256:abc", registry.SourceInternalWrite)
	r.Delete("/a.txt")

	_, ok := r.Get("/a.txt")
	require.False(t, ok)
}

func TestRenameMovesEntry(t *testing.T) {
	r := registry.New()
	r.Put("/a.txt", "sha256:abc", registry.SourceInternalWrite)
	r.Rename("/a.txt", "/b.txt")

	_, ok := r.Get("/a.txt")
	require.False(t, ok)

	e, ok := r.Get("/b.txt")
	require.True(t, ok)
	require.Equal(t, "sha256:abc", e.Fingerprint)
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	r := registry.New()
	r.Put("/a.txt", "sha256:abc", registry.SourceInternalWrite)

	snap := r.Snapshot()
	r.Put("/a.txt", "sha256:def", registry.SourceInternalWrite)

	require.Equal(t, "sha256:abc", snap["/a.txt"].Fingerprint)
}

func TestRestoreReplacesContents(t *testing.T) {
	r := registry.New()
	r.Put("/old.txt", "sha256:old", registry.SourceInternalWrite)

	r.Restore(map[string]registry.Entry{
		"/new.txt": {Fingerprint: "sha256:new", Source: registry.SourceStartupRevalidation},
	})

	_, ok := r.Get("/old.txt")
	require.False(t, ok)

	e, ok := r.Get("/new.txt")
	require.True(t, ok)
	require.Equal(t, "sha256:new", e.Fingerprint)
}
