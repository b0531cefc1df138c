// Package config loads the layered YAML configuration of the server.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/boxbase/boxbase/internal/server"
)

// Config holds the application configuration.
type Config struct {
	Server  server.Config `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Events  EventsConfig  `yaml:"events"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Server:  server.DefaultConfig(),
		Storage: DefaultStorageConfig(),
		Logging: DefaultLoggingConfig(),
		Events:  DefaultEventsConfig(),
	}
}

// Load reads configuration from configDir.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults ->
// ApplyEnvOverrides -> ResolvePaths -> Validate.
func Load(configDir string) (*Config, error) {
	cfg := Default()

	for _, name := range []string{"config.yml", "config.local.yml"} {
		if err := loadFile(filepath.Join(configDir, name), cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Apply(configDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply runs the configuration lifecycle on every section.
func (c *Config) Apply(configDir string) error {
	if err := ApplyServiceConfigs(configDir,
		&c.Server,
		&c.Storage,
		&c.Logging,
		&c.Events,
	); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	return nil
}

func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", filename, err)
	}
	return nil
}
