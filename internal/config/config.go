// Package config loads the backend topology and ambient settings from a
// YAML file, with environment overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"agentfs/internal/logging"
)

// Config holds all agentfs configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Backend topology, in declaration order. Routing order is decided by
	// Priority, not position.
	Backends []BackendConfig `yaml:"backends"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// BackendConfig declares one backend in the composite mount table.
type BackendConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"` // local, remote

	// Root is the filesystem directory a local backend serves.
	Root string `yaml:"root"`

	// BaseURL is the provider endpoint a remote backend talks to.
	BaseURL string `yaml:"base_url"`

	// Scope is the path prefix this backend claims; "/" claims everything.
	Scope string `yaml:"scope"`

	// Priority breaks ties between overlapping scopes; higher wins.
	Priority int `yaml:"priority"`

	// Execute marks the backend as accepting command execution.
	Execute bool `yaml:"execute"`

	Timeout string `yaml:"timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`
}

// DefaultConfig returns a single-backend configuration serving the current
// directory.
func DefaultConfig() *Config {
	return &Config{
		Name:    "agentfs",
		Version: "0.3.0",

		Backends: []BackendConfig{
			{
				Name:     "workspace",
				Kind:     "local",
				Root:     ".",
				Scope:    "/",
				Priority: 0,
				Execute:  true,
				Timeout:  "30s",
			},
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.ConfigDebug("no config at %s, using defaults", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Config("loaded %s: %d backend(s)", path, len(cfg.Backends))
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Validate checks the backend topology for declaration errors.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("config: at least one backend is required")
	}

	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("config: backend %d has no name", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("config: duplicate backend name %q", b.Name)
		}
		seen[b.Name] = true

		switch b.Kind {
		case "local":
			if b.Root == "" {
				return fmt.Errorf("config: local backend %q needs a root", b.Name)
			}
		case "remote":
			if b.BaseURL == "" {
				return fmt.Errorf("config: remote backend %q needs a base_url", b.Name)
			}
		default:
			return fmt.Errorf("config: backend %q has unknown kind %q", b.Name, b.Kind)
		}

		if b.Timeout != "" {
			if _, err := time.ParseDuration(b.Timeout); err != nil {
				return fmt.Errorf("config: backend %q has invalid timeout: %w", b.Name, err)
			}
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Workspace root for the first local backend
	if root := os.Getenv("AGENTFS_ROOT"); root != "" {
		if !c.overrideFirst("local", func(b *BackendConfig) { b.Root = root }) {
			logging.ConfigWarn("AGENTFS_ROOT is set but no local backend is declared")
		}
	}

	// Provider endpoint for the first remote backend
	if url := os.Getenv("AGENTFS_REMOTE_URL"); url != "" {
		if !c.overrideFirst("remote", func(b *BackendConfig) { b.BaseURL = url }) {
			logging.ConfigWarn("AGENTFS_REMOTE_URL is set but no remote backend is declared")
		}
	}

	if level := os.Getenv("AGENTFS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if file := os.Getenv("AGENTFS_LOG_FILE"); file != "" {
		c.Logging.File = file
	}
}

// overrideFirst applies mutate to the first backend of the given kind and
// reports whether one was found.
func (c *Config) overrideFirst(kind string, mutate func(*BackendConfig)) bool {
	for i := range c.Backends {
		if c.Backends[i].Kind == kind {
			mutate(&c.Backends[i])
			return true
		}
	}
	return false
}

// GetTimeout returns a backend's timeout as a duration.
func (b *BackendConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(b.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
