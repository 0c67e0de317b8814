package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gibsondevhouse/quilliam/internal/canon"
)

// Config is the on-disk configuration for the quilliam engine.
type Config struct {
	// UniverseID scopes every canonical record in the database.
	UniverseID string `json:"universe_id"`

	// WorkspaceDir is the writing workspace root (characters/, locations/,
	// world/ markdown files).
	WorkspaceDir string `json:"workspace_dir"`

	// StateDir holds the database and the revision journal.
	// If empty, ~/.quilliam is used.
	StateDir string `json:"state_dir,omitempty"`

	// DBPath overrides the default <StateDir>/canon.db location.
	DBPath string `json:"db_path,omitempty"`

	// AutoCommitThreshold is the extraction confidence at or above which
	// patches are recommended for auto-commit. If 0, the built-in default
	// applies.
	AutoCommitThreshold float64 `json:"auto_commit_threshold,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `json:"log_level,omitempty"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(c.UniverseID) == "" {
		return errors.New("missing universe_id")
	}
	if strings.TrimSpace(c.WorkspaceDir) == "" {
		return errors.New("missing workspace_dir")
	}
	if c.AutoCommitThreshold < 0 || c.AutoCommitThreshold > 1 {
		return fmt.Errorf("auto_commit_threshold out of range: %v", c.AutoCommitThreshold)
	}
	switch strings.TrimSpace(c.LogFormat) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log_format: %q", c.LogFormat)
	}
	switch strings.TrimSpace(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %q", c.LogLevel)
	}
	return nil
}

// EffectiveStateDir resolves StateDir, defaulting to ~/.quilliam.
func (c *Config) EffectiveStateDir() string {
	if c != nil && strings.TrimSpace(c.StateDir) != "" {
		return strings.TrimSpace(c.StateDir)
	}
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ".quilliam"
	}
	return filepath.Join(home, ".quilliam")
}

// EffectiveDBPath resolves DBPath, defaulting to <StateDir>/canon.db.
func (c *Config) EffectiveDBPath() string {
	if c != nil && strings.TrimSpace(c.DBPath) != "" {
		return strings.TrimSpace(c.DBPath)
	}
	return filepath.Join(c.EffectiveStateDir(), "canon.db")
}

// EffectiveAutoCommitThreshold resolves the threshold, defaulting to the
// built-in constant when unset.
func (c *Config) EffectiveAutoCommitThreshold() float64 {
	if c != nil && c.AutoCommitThreshold > 0 {
		return c.AutoCommitThreshold
	}
	return canon.AutoCommitThreshold
}

// DefaultConfigPath returns the default config path:
//
//	~/.quilliam/config.json
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "quilliam.config.json"
	}
	return filepath.Join(home, ".quilliam", "config.json")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
