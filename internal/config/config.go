// Package config loads the engine's configuration from a layered set of
// JSONC files plus an access-rules YAML file, producing an
// [engine.Settings] value. The core itself never re-reads configuration
// after construction; hot-reload is out of scope.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/agentfs/coord/internal/engine"
	"github.com/agentfs/coord/internal/pathvalidate"
	"github.com/agentfs/coord/internal/persistence"
	"github.com/agentfs/coord/internal/watcher"
)

var (
	errConfigFileNotFound = errors.New("config file not found")
	errConfigFileRead     = errors.New("cannot read config file")
	errConfigInvalid      = errors.New("invalid config file")
	errNoBaseDirectories  = errors.New("base_directories cannot be empty")
)

// ConfigFileName is the project-level config file's default name.
const ConfigFileName = ".coord.json"

// AccessRulesFileName is the default access-rules file, resolved relative
// to whichever directory the winning config file lives in.
const AccessRulesFileName = "access.yaml"

// File is the on-disk JSONC shape of a config file. Every field is
// optional; a file contributes only the fields it sets.
type File struct {
	BaseDirectories          []string `json:"base_directories,omitempty"`
	DefaultTimeoutSeconds    *float64 `json:"default_timeout_seconds,omitempty"`
	MaxTimeoutSeconds        *float64 `json:"max_timeout_seconds,omitempty"`
	DefaultEncoding          string   `json:"default_encoding,omitempty"`
	DiffContextLines         *int     `json:"diff_context_lines,omitempty"`
	MaxFileSizeBytes         *int64   `json:"max_file_size_bytes,omitempty"`
	AccessRulesFile          string   `json:"access_rules_file,omitempty"`
	DefaultDestructivePolicy string   `json:"default_destructive_policy,omitempty"`
	SyscallWorkerPoolSize    *int64   `json:"syscall_worker_pool_size,omitempty"`

	PersistenceEnabled    *bool   `json:"persistence_enabled,omitempty"`
	PersistenceStateFile  string  `json:"persistence_state_file,omitempty"`
	PersistenceDebounceMs *int64  `json:"persistence_write_debounce_ms,omitempty"`
	PersistenceTTLMult    *float64 `json:"persistence_ttl_multiplier,omitempty"`

	WatcherEnabled        *bool  `json:"watcher_enabled,omitempty"`
	WatcherDebounceMs     *int64 `json:"watcher_debounce_ms,omitempty"`
	WatcherPollIntervalMs *int64 `json:"watcher_poll_interval_ms,omitempty"`
}

// Sources records which config files actually contributed to the final
// value, for diagnostics.
type Sources struct {
	Global      string
	Project     string
	AccessRules string
}

// AccessRuleFile is the YAML shape access.yaml files are parsed into.
type AccessRuleFile struct {
	Rules []AccessRuleEntry `yaml:"rules"`
}

// AccessRuleEntry mirrors [pathvalidate.Rule] but in YAML-friendly form.
type AccessRuleEntry struct {
	PathPrefix string   `yaml:"path_prefix"`
	Operations []string `yaml:"operations"`
	Action     string   `yaml:"action"`
	Priority   int      `yaml:"priority"`
}

// defaultFile returns the baked-in defaults, identical in shape and
// meaning to the spec's documented defaults.
func defaultFile() File {
	timeout30 := 30.0
	timeout300 := 300.0
	ctxLines := 3
	maxSize := int64(10 << 20)
	poolSize := int64(32)
	debounce := int64(1000)
	ttlMult := 1.0
	watcherDebounce := int64(100)

	return File{
		DefaultTimeoutSeconds:    &timeout30,
		MaxTimeoutSeconds:        &timeout300,
		DefaultEncoding:          "utf-8",
		DiffContextLines:         &ctxLines,
		MaxFileSizeBytes:         &maxSize,
		DefaultDestructivePolicy: "deny",
		SyscallWorkerPoolSize:    &poolSize,
		PersistenceDebounceMs:    &debounce,
		PersistenceTTLMult:       &ttlMult,
		WatcherDebounceMs:        &watcherDebounce,
	}
}

// Load resolves configuration with the following precedence, highest
// last:
//
//  1. Defaults
//  2. Global user config ($XDG_CONFIG_HOME/coord/config.json or
//     ~/.config/coord/config.json)
//  3. Project config file: the explicit file at configPath if non-empty
//     (must exist), otherwise workDir/.coord.json if present
//
// An explicit configPath replaces the project file rather than layering on
// top of it. Load itself knows nothing about CLI flags.
func Load(workDir, configPath string, env []string) (engine.Settings, Sources, error) {
	cfg := defaultFile()

	var sources Sources

	globalCfg, globalPath, err := loadGlobalConfig(env)
	if err != nil {
		return engine.Settings{}, Sources{}, err
	}
	sources.Global = globalPath
	cfg = merge(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(workDir, configPath)
	if err != nil {
		return engine.Settings{}, Sources{}, err
	}
	sources.Project = projectPath
	cfg = merge(cfg, projectCfg)

	if len(cfg.BaseDirectories) == 0 {
		return engine.Settings{}, Sources{}, errNoBaseDirectories
	}

	baseDir := workDir
	if projectPath != "" {
		baseDir = filepath.Dir(projectPath)
	}

	rules, rulesPath, err := loadAccessRules(baseDir, cfg.AccessRulesFile)
	if err != nil {
		return engine.Settings{}, Sources{}, err
	}
	sources.AccessRules = rulesPath

	settings, err := toSettings(cfg, rules)
	if err != nil {
		return engine.Settings{}, Sources{}, err
	}

	return settings, sources, nil
}

func getGlobalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "coord", "config.json")
		}
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "coord", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "coord", "config.json")
	}

	return ""
}

func loadGlobalConfig(env []string) (File, string, error) {
	path := getGlobalConfigPath(env)
	if path == "" {
		return File{}, "", nil
	}

	f, loaded, err := loadConfigFile(path, false)
	if err != nil {
		return File{}, "", err
	}
	if !loaded {
		return File{}, "", nil
	}
	return f, path, nil
}

func loadProjectConfig(workDir, configPath string) (File, string, error) {
	var cfgFile string
	var mustExist bool

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}
		mustExist = true

		if _, statErr := os.Stat(cfgFile); statErr != nil {
			return File{}, "", fmt.Errorf("%w: %s", errConfigFileNotFound, configPath)
		}
	} else {
		cfgFile = filepath.Join(workDir, ConfigFileName)
		mustExist = false
	}

	f, loaded, err := loadConfigFile(cfgFile, mustExist)
	if err != nil {
		return File{}, "", err
	}
	if !loaded {
		return File{}, "", nil
	}
	return f, cfgFile, nil
}

func loadConfigFile(path string, mustExist bool) (File, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return File{}, false, nil
		}
		if mustExist {
			return File{}, false, fmt.Errorf("%w: %s", errConfigFileRead, path)
		}
		return File{}, false, nil
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return File{}, false, fmt.Errorf("%w %s: invalid JSONC: %w", errConfigInvalid, path, err)
	}

	var f File
	if err := json.Unmarshal(standardized, &f); err != nil {
		return File{}, false, fmt.Errorf("%w %s: invalid JSON: %w", errConfigInvalid, path, err)
	}

	return f, true, nil
}

func loadAccessRules(baseDir, explicitPath string) ([]pathvalidate.Rule, string, error) {
	path := explicitPath
	mustExist := path != ""
	if path == "" {
		path = filepath.Join(baseDir, AccessRulesFileName)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("%w: %s", errConfigFileRead, path)
	}

	var raw AccessRuleFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, "", fmt.Errorf("%w %s: invalid YAML: %w", errConfigInvalid, path, err)
	}

	rules := make([]pathvalidate.Rule, 0, len(raw.Rules))
	for _, r := range raw.Rules {
		ops := make([]pathvalidate.Operation, 0, len(r.Operations))
		for _, o := range r.Operations {
			ops = append(ops, pathvalidate.Operation(o))
		}
		action := pathvalidate.ActionDeny
		if strings.EqualFold(r.Action, "allow") {
			action = pathvalidate.ActionAllow
		}
		rules = append(rules, pathvalidate.Rule{
			PathPrefix: r.PathPrefix,
			Operations: ops,
			Action:     action,
			Priority:   r.Priority,
		})
	}

	return rules, path, nil
}

func merge(base, overlay File) File {
	if len(overlay.BaseDirectories) > 0 {
		base.BaseDirectories = overlay.BaseDirectories
	}
	if overlay.DefaultTimeoutSeconds != nil {
		base.DefaultTimeoutSeconds = overlay.DefaultTimeoutSeconds
	}
	if overlay.MaxTimeoutSeconds != nil {
		base.MaxTimeoutSeconds = overlay.MaxTimeoutSeconds
	}
	if overlay.DefaultEncoding != "" {
		base.DefaultEncoding = overlay.DefaultEncoding
	}
	if overlay.DiffContextLines != nil {
		base.DiffContextLines = overlay.DiffContextLines
	}
	if overlay.MaxFileSizeBytes != nil {
		base.MaxFileSizeBytes = overlay.MaxFileSizeBytes
	}
	if overlay.AccessRulesFile != "" {
		base.AccessRulesFile = overlay.AccessRulesFile
	}
	if overlay.DefaultDestructivePolicy != "" {
		base.DefaultDestructivePolicy = overlay.DefaultDestructivePolicy
	}
	if overlay.SyscallWorkerPoolSize != nil {
		base.SyscallWorkerPoolSize = overlay.SyscallWorkerPoolSize
	}
	if overlay.PersistenceEnabled != nil {
		base.PersistenceEnabled = overlay.PersistenceEnabled
	}
	if overlay.PersistenceStateFile != "" {
		base.PersistenceStateFile = overlay.PersistenceStateFile
	}
	if overlay.PersistenceDebounceMs != nil {
		base.PersistenceDebounceMs = overlay.PersistenceDebounceMs
	}
	if overlay.PersistenceTTLMult != nil {
		base.PersistenceTTLMult = overlay.PersistenceTTLMult
	}
	if overlay.WatcherEnabled != nil {
		base.WatcherEnabled = overlay.WatcherEnabled
	}
	if overlay.WatcherDebounceMs != nil {
		base.WatcherDebounceMs = overlay.WatcherDebounceMs
	}
	if overlay.WatcherPollIntervalMs != nil {
		base.WatcherPollIntervalMs = overlay.WatcherPollIntervalMs
	}
	return base
}

func toSettings(f File, rules []pathvalidate.Rule) (engine.Settings, error) {
	policy := pathvalidate.ActionDeny
	if strings.EqualFold(f.DefaultDestructivePolicy, "allow") {
		policy = pathvalidate.ActionAllow
	}

	settings := engine.Settings{
		BaseDirectories:          f.BaseDirectories,
		DefaultTimeout:           secondsToDuration(f.DefaultTimeoutSeconds),
		MaxTimeout:               secondsToDuration(f.MaxTimeoutSeconds),
		DefaultEncoding:          f.DefaultEncoding,
		DiffContextLines:         intOr(f.DiffContextLines, 3),
		MaxFileSizeBytes:         int64Or(f.MaxFileSizeBytes, 10<<20),
		AccessRules:              rules,
		DefaultDestructivePolicy: policy,
		SyscallWorkerPoolSize:    int64Or(f.SyscallWorkerPoolSize, 32),
	}

	settings.PersistenceEnabled = f.PersistenceEnabled != nil && *f.PersistenceEnabled
	if settings.PersistenceEnabled {
		settings.PersistenceConfig = persistence.Config{
			Enabled:       true,
			StateFile:     f.PersistenceStateFile,
			WriteDebounce: millisToDuration(f.PersistenceDebounceMs, time.Second),
			TTLMultiplier: floatOr(f.PersistenceTTLMult, 1.0),
		}
	}

	settings.WatcherEnabled = f.WatcherEnabled == nil || *f.WatcherEnabled
	if settings.WatcherEnabled {
		settings.WatcherOptions = watcher.Options{
			Debounce:     millisToDuration(f.WatcherDebounceMs, 100*time.Millisecond),
			PollInterval: millisToDuration(f.WatcherPollIntervalMs, 0),
		}
	}

	return settings, nil
}

func secondsToDuration(v *float64) time.Duration {
	if v == nil {
		return 0
	}
	return time.Duration(*v * float64(time.Second))
}

func millisToDuration(v *int64, fallback time.Duration) time.Duration {
	if v == nil {
		return fallback
	}
	return time.Duration(*v) * time.Millisecond
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

func int64Or(v *int64, fallback int64) int64 {
	if v == nil {
		return fallback
	}
	return *v
}

func floatOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
