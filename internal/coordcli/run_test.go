package coordcli_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentfs/coord/internal/coordcli"
)

func runCtl(t *testing.T, dir string, args ...string) (string, string, int) {
	t.Helper()

	var out, errOut bytes.Buffer
	exitCode := coordcli.Run(nil, &out, &errOut, args, []string{}, nil)
	_ = dir

	return out.String(), errOut.String(), exitCode
}

func TestHealthReportsOKWithValidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".coord.json"), []byte(`{"base_directories": ["`+dir+`"]}`), 0o644))

	stdout, stderr, code := runCtl(t, dir, "-C", dir, "health")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, `"status": "ok"`)
}

func TestStatusReportsTrackedFileCountZeroOnFreshEngine(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".coord.json"), []byte(`{"base_directories": ["`+dir+`"]}`), 0o644))

	stdout, stderr, code := runCtl(t, dir, "-C", dir, "status")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, `"tracked_file_count": 0`)
}

func TestUnknownCommandFails(t *testing.T) {
	dir := t.TempDir()
	_, stderr, code := runCtl(t, dir, "-C", dir, "bogus")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "unknown command")
}

func TestMissingConfigFails(t *testing.T) {
	dir := t.TempDir()
	_, _, code := runCtl(t, dir, "-C", dir, "health")
	require.NotEqual(t, 0, code)
}
