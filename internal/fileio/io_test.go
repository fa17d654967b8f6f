package fileio_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentfs/coord/internal/fileio"
)

func newIO(t *testing.T) (*fileio.IO, string) {
	t.Helper()
	dir := t.TempDir()
	return fileio.New(fileio.NewReal(), 10<<20), dir
}

func TestWriteCreateOnly_FailsIfExists(t *testing.T) {
	io_, dir := newIO(t)
	path := filepath.Join(dir, "a.txt")

	require.NoError(t, io_.WriteCreateOnly(path, []byte("hello"), false, 0o644))

	err := io_.WriteCreateOnly(path, []byte("again"), false, 0o644)
	require.ErrorIs(t, err, fileio.ErrExists)
}

func TestReadRoundTrip(t *testing.T) {
	io_, dir := newIO(t)
	path := filepath.Join(dir, "a.txt")
	content := []byte("a\nb\nc\n")

	require.NoError(t, io_.WriteCreateOnly(path, content, false, 0o644))

	res, err := io_.Read(path, 0, 0)
	require.NoError(t, err)
	require.Equal(t, content, res.Bytes)
	require.Equal(t, 3, res.TotalLines)
	require.Equal(t, []string{"a", "b", "c"}, res.Lines)
}

func TestReadOffsetBeyondTotalLines(t *testing.T) {
	io_, dir := newIO(t)
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, io_.WriteCreateOnly(path, []byte("a\nb\n"), false, 0o644))

	res, err := io_.Read(path, 100, 10)
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalLines)
	require.Equal(t, 0, res.LinesReturned)
}

func TestReadNotFound(t *testing.T) {
	io_, dir := newIO(t)
	_, err := io_.Read(filepath.Join(dir, "missing.txt"), 0, 0)
	require.ErrorIs(t, err, fileio.ErrNotFound)
}

func TestReadTooLarge(t *testing.T) {
	dir := t.TempDir()
	io_ := fileio.New(fileio.NewReal(), 4)
	path := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(path, []byte("way too big"), 0o644))

	_, err := io_.Read(path, 0, 0)
	require.ErrorIs(t, err, fileio.ErrTooLarge)
}

func TestAppendAssociative(t *testing.T) {
	io_, dir := newIO(t)
	pathA := filepath.Join(dir, "a.txt")
	pathB := filepath.Join(dir, "b.txt")

	require.NoError(t, io_.WriteCreateOnly(pathA, []byte("x"), false, 0o644))
	require.NoError(t, io_.WriteCreateOnly(pathB, []byte("x"), false, 0o644))

	_, err := io_.Append(pathA, []byte("y"), "", false, false, 0o644)
	require.NoError(t, err)
	data, err := io_.Append(pathA, []byte("z"), "", false, false, 0o644)
	require.NoError(t, err)

	combined, err := io_.Append(pathB, []byte("yz"), "", false, false, 0o644)
	require.NoError(t, err)

	require.Equal(t, combined, data)
}

func TestAppendMissingWithoutCreate(t *testing.T) {
	io_, dir := newIO(t)
	_, err := io_.Append(filepath.Join(dir, "nope.txt"), []byte("x"), "", false, false, 0o644)
	require.ErrorIs(t, err, fileio.ErrNotFound)
}

func TestDeleteMissing(t *testing.T) {
	io_, dir := newIO(t)
	err := io_.Delete(filepath.Join(dir, "nope.txt"))
	require.ErrorIs(t, err, fileio.ErrNotFound)
}

func TestRenameExistsWithoutOverwrite(t *testing.T) {
	io_, dir := newIO(t)
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, io_.WriteCreateOnly(src, []byte("s"), false, 0o644))
	require.NoError(t, io_.WriteCreateOnly(dst, []byte("d"), false, 0o644))

	_, err := io_.Rename(src, dst, false, false)
	require.ErrorIs(t, err, fileio.ErrExists)
}

func TestRenameSucceeds(t *testing.T) {
	io_, dir := newIO(t)
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "sub", "dst.txt")
	require.NoError(t, io_.WriteCreateOnly(src, []byte("s"), false, 0o644))

	res, err := io_.Rename(src, dst, false, true)
	require.NoError(t, err)
	require.False(t, res.CrossFilesystem)

	exists, err := io_.Exists(dst)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestAtomicWriterChaosSyncFailureLeavesNoPartialFile(t *testing.T) {
	real := fileio.NewReal()
	chaos := fileio.NewChaos(real, fileio.ChaosConfig{SyncFailRate: 1})
	io_ := fileio.New(chaos, 0)

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")

	err := io_.WriteCreateOnly(path, []byte("content"), false, 0o644)
	require.Error(t, err)

	exists, existsErr := real.Exists(path)
	require.NoError(t, existsErr)
	require.False(t, exists, "a failed sync must not leave a file at the destination path")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "temp file must be cleaned up after a failed sync")
}

func TestChaosRenameFailureIsSurfaced(t *testing.T) {
	real := fileio.NewReal()
	chaos := fileio.NewChaos(real, fileio.ChaosConfig{RenameFailRate: 1})
	io_ := fileio.New(chaos, 0)

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")

	err := io_.WriteCreateOnly(path, []byte("content"), false, 0o644)
	require.True(t, errors.Is(err, fileio.ErrWrite))
}
