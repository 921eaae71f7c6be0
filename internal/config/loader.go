package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath overrides the default config file location.
	EnvConfigPath = "CORAL_PROFILER_CONFIG"

	// DefaultDir is the directory under the home directory holding the file.
	DefaultDir = ".coral"

	// ConfigFile is the default file name.
	ConfigFile = "profiler.yaml"
)

// Loader resolves and reads the config file.
type Loader struct {
	homeDir string
}

// NewLoader creates a loader rooted at the user's home directory.
func NewLoader() *Loader {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return &Loader{homeDir: home}
}

// NewLoaderWithHome creates a loader rooted at homeDir.
func NewLoaderWithHome(homeDir string) *Loader {
	return &Loader{homeDir: homeDir}
}

// DefaultPath returns ~/.coral/profiler.yaml.
func (l *Loader) DefaultPath() string {
	return filepath.Join(l.homeDir, DefaultDir, ConfigFile)
}

// Resolve picks the config file: flagPath, then $CORAL_PROFILER_CONFIG, then
// the default path. explicit reports whether the path was asked for, in which
// case it must exist.
func (l *Loader) Resolve(flagPath string) (path string, explicit bool) {
	if flagPath != "" {
		return flagPath, true
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, true
	}
	return l.DefaultPath(), false
}

// Result is a loaded configuration and where it came from.
type Result struct {
	Config *Config
	// Path is the file that was read, or empty when defaults were used.
	Path string
	// EnvOverrides lists the environment variables that were applied.
	EnvOverrides []string
}

// Load reads the resolved config file over the defaults, applies environment
// overrides and validates the result. A missing default file is not an error.
func (l *Loader) Load(flagPath string) (*Result, error) {
	path, explicit := l.Resolve(flagPath)
	cfg := Default()
	res := &Result{Config: cfg}

	//nolint:gosec // G304: path is chosen by the user.
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config from %s: %w", path, err)
		}
		res.Path = path
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config from %s: %w", path, err)
	}

	applied, err := ApplyEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	res.EnvOverrides = applied

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}

// Save writes cfg to path, creating the parent directory.
func Save(path string, cfg *Config) error {
	//nolint:gosec // G301: the directory is shared with other coral tools.
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The token is a secret.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
