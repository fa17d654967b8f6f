package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentfs/coord/internal/config"
	"github.com/agentfs/coord/internal/pathvalidate"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadAppliesProjectConfigOverDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.ConfigFileName), `{
		"base_directories": ["`+dir+`"],
		"max_file_size_bytes": 2048,
		"default_destructive_policy": "allow"
	}`)

	settings, sources, err := config.Load(dir, "", nil)
	require.NoError(t, err)
	require.Equal(t, []string{dir}, settings.BaseDirectories)
	require.EqualValues(t, 2048, settings.MaxFileSizeBytes)
	require.Equal(t, pathvalidate.ActionAllow, settings.DefaultDestructivePolicy)
	require.NotEmpty(t, sources.Project)
}

func TestLoadMissingBaseDirectoriesIsAnError(t *testing.T) {
	dir := t.TempDir()
	_, _, err := config.Load(dir, "", nil)
	require.Error(t, err)
}

func TestLoadExplicitConfigPathMustExist(t *testing.T) {
	dir := t.TempDir()
	_, _, err := config.Load(dir, filepath.Join(dir, "missing.json"), nil)
	require.Error(t, err)
}

func TestLoadToleratesJSONCComments(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.ConfigFileName), `{
		// base directory for this project
		"base_directories": ["`+dir+`"],
	}`)

	settings, _, err := config.Load(dir, "", nil)
	require.NoError(t, err)
	require.Equal(t, []string{dir}, settings.BaseDirectories)
}

func TestLoadParsesAccessRulesYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.ConfigFileName), `{"base_directories": ["`+dir+`"]}`)
	writeFile(t, filepath.Join(dir, config.AccessRulesFileName), `
rules:
  - path_prefix: "secrets/"
    operations: ["write", "delete"]
    action: "deny"
    priority: 10
`)

	settings, _, err := config.Load(dir, "", nil)
	require.NoError(t, err)
	require.Len(t, settings.AccessRules, 1)
	require.Equal(t, "secrets/", settings.AccessRules[0].PathPrefix)
	require.Equal(t, pathvalidate.ActionDeny, settings.AccessRules[0].Action)
}

func TestLoadDefaultsApplyWhenUnset(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.ConfigFileName), `{"base_directories": ["`+dir+`"]}`)

	settings, _, err := config.Load(dir, "", nil)
	require.NoError(t, err)
	require.Equal(t, 3, settings.DiffContextLines)
	require.EqualValues(t, 10<<20, settings.MaxFileSizeBytes)
	require.True(t, settings.WatcherEnabled)
}
