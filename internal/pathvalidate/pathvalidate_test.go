package pathvalidate_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentfs/coord/internal/pathvalidate"
)

func TestResolveWithinBaseSucceeds(t *testing.T) {
	base := t.TempDir()
	file := filepath.Join(base, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	v, err := pathvalidate.New([]string{base}, nil, pathvalidate.ActionAllow)
	require.NoError(t, err)

	canon, err := v.Resolve(file, pathvalidate.OpRead, false)
	require.NoError(t, err)
	require.NotEmpty(t, canon)
}

func TestResolveOutsideBaseFails(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()
	file := filepath.Join(outside, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	v, err := pathvalidate.New([]string{base}, nil, pathvalidate.ActionAllow)
	require.NoError(t, err)

	_, err = v.Resolve(file, pathvalidate.OpRead, false)
	require.Error(t, err)

	var ve *pathvalidate.Error
	require.True(t, errors.As(err, &ve))
	require.Equal(t, pathvalidate.FailureOutsideBase, ve.Kind)
}

func TestSymlinkEscapeIsRejected(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()
	target := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(target, []byte("s"), 0o644))

	link := filepath.Join(base, "escape")
	require.NoError(t, os.Symlink(target, link))

	v, err := pathvalidate.New([]string{base}, nil, pathvalidate.ActionAllow)
	require.NoError(t, err)

	_, err = v.Resolve(link, pathvalidate.OpRead, false)
	require.Error(t, err)

	var ve *pathvalidate.Error
	require.True(t, errors.As(err, &ve))
	require.Equal(t, pathvalidate.FailureOutsideBase, ve.Kind)
}

func TestReadFamilyBypassesRules(t *testing.T) {
	base := t.TempDir()
	file := filepath.Join(base, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	rules := []pathvalidate.Rule{
		{PathPrefix: base, Action: pathvalidate.ActionDeny, Priority: 10},
	}
	v, err := pathvalidate.New([]string{base}, rules, pathvalidate.ActionAllow)
	require.NoError(t, err)

	_, err = v.Resolve(file, pathvalidate.OpRead, false)
	require.NoError(t, err, "read-family operations must bypass access rules")
}

func TestDestructiveOpDeniedByRule(t *testing.T) {
	base := t.TempDir()
	file := filepath.Join(base, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	rules := []pathvalidate.Rule{
		{PathPrefix: base, Operations: []pathvalidate.Operation{pathvalidate.OpDelete}, Action: pathvalidate.ActionDeny, Priority: 5},
	}
	v, err := pathvalidate.New([]string{base}, rules, pathvalidate.ActionAllow)
	require.NoError(t, err)

	_, err = v.Resolve(file, pathvalidate.OpDelete, false)
	require.Error(t, err)

	var ve *pathvalidate.Error
	require.True(t, errors.As(err, &ve))
	require.Equal(t, pathvalidate.FailureAccessDenied, ve.Kind)

	_, err = v.Resolve(file, pathvalidate.OpWrite, false)
	require.NoError(t, err)
}

func TestFirstMatchWinsByPriority(t *testing.T) {
	base := t.TempDir()
	file := filepath.Join(base, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	rules := []pathvalidate.Rule{
		{PathPrefix: base, Action: pathvalidate.ActionDeny, Priority: 1},
		{PathPrefix: base, Action: pathvalidate.ActionAllow, Priority: 100},
	}
	v, err := pathvalidate.New([]string{base}, rules, pathvalidate.ActionDeny)
	require.NoError(t, err)

	_, err = v.Resolve(file, pathvalidate.OpDelete, false)
	require.NoError(t, err, "the higher-priority allow rule must win")
}

func TestDefaultDestructivePolicyApplies(t *testing.T) {
	base := t.TempDir()
	file := filepath.Join(base, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	v, err := pathvalidate.New([]string{base}, nil, pathvalidate.ActionDeny)
	require.NoError(t, err)

	_, err = v.Resolve(file, pathvalidate.OpDelete, false)
	require.Error(t, err)
}

func TestMayNotExistAllowsMissingLeaf(t *testing.T) {
	base := t.TempDir()
	file := filepath.Join(base, "new.txt")

	v, err := pathvalidate.New([]string{base}, nil, pathvalidate.ActionAllow)
	require.NoError(t, err)

	canon, err := v.Resolve(file, pathvalidate.OpWrite, true)
	require.NoError(t, err)
	require.NotEmpty(t, canon)
}
