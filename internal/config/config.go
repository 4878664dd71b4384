// Package config holds the engine's own configuration — the handful of
// things the driver (CLI, wizard, whatever sits outside this module)
// supplies: a workspace path, a user identity, and persistence roots.
// It deliberately does not model user-preferences storage, analytics
// opt-in, or any driver-facing editing UI — those stay out of scope.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath  = "~/.config/starbash/engine.json"
	defaultParallelism = 4
)

// EngineConfig is read once at engine construction.
type EngineConfig struct {
	UserIdentity string     `json:"user_identity"`
	Paths        Paths      `json:"paths"`
	Processing   Processing `json:"processing"`
	Logging      Logging    `json:"logging"`
	Tools        Tools      `json:"tools"`
}

// Paths configures the persistent state layout.
type Paths struct {
	UserDataRoot string `json:"user_data_root"` // catalog.db, selection.json
	UserConfig   string `json:"user_config"`    // user.toml
	CacheRoot    string `json:"cache_root"`     // per-target workspaces + signature db
	DocumentsRoot string `json:"documents_root"` // masters/, processed/
}

// Processing captures execution preferences for the worker pool.
type Processing struct {
	Concurrency       int   `json:"concurrency"`        // worker pool size; 1 today, >1 ready
	DefaultTimeoutSec int   `json:"default_timeout_sec"`
	CacheRootCapBytes int64 `json:"cache_root_cap_bytes"` // 0 = unbounded
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Format     string `json:"format"` // text, json
	FileOutput bool   `json:"file_output"`
	LogDir     string `json:"log_dir"`
}

// Tools configures the Tool Runtime's two subprocess tool kinds with a
// preferred binary and ordered fallbacks, the same shape
// ToolPreferences does for its RAW/panoramic/stacking tools.
type Tools struct {
	Stacker   ToolBinaryConfig `json:"stacker"`
	ImageTool ToolBinaryConfig `json:"image_tool"`
	// WarningAllowList lists substrings of stacker stderr/stdout lines
	// considered harmless noise (e.g. "sequence not found"): suppressed
	// from the user-facing log but retained in the per-task log file.
	WarningAllowList []string `json:"warning_allow_list"`
}

// ToolBinaryConfig names a preferred binary and its fallbacks, tried in
// order at preflight and at dispatch time.
type ToolBinaryConfig struct {
	Preferred string   `json:"preferred"`
	Fallbacks []string `json:"fallbacks"`
}

// Load reads configuration from disk, falling back to sensible
// defaults when no file exists yet.
func Load() (*EngineConfig, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("STARBASH_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *EngineConfig {
	home, _ := os.UserHomeDir()
	dataRoot := filepath.Join(home, ".local", "share", "starbash")
	return &EngineConfig{
		Paths: Paths{
			UserDataRoot:  dataRoot,
			UserConfig:    filepath.Join(home, ".config", "starbash"),
			CacheRoot:     filepath.Join(home, ".cache", "starbash"),
			DocumentsRoot: filepath.Join(home, "starbash"),
		},
		Processing: Processing{
			Concurrency:       1,
			DefaultTimeoutSec: 1800,
			CacheRootCapBytes: 0,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     filepath.Join(dataRoot, "logs"),
		},
		Tools: Tools{
			Stacker:          ToolBinaryConfig{Preferred: "siril-cli", Fallbacks: []string{"pixinsight"}},
			ImageTool:        ToolBinaryConfig{Preferred: "convert", Fallbacks: []string{"darktable-cli"}},
			WarningAllowList: []string{"sequence not found", "no reference frame"},
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}
