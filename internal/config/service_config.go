package config

import (
	"path/filepath"
	"strings"
)

// ServiceConfig is the configuration lifecycle every section implements.
type ServiceConfig interface {
	// ApplyDefaults fills zero values with defaults.
	ApplyDefaults()

	// ApplyEnvOverrides applies BOXBASE_* environment variables.
	ApplyEnvOverrides()

	// ResolvePaths resolves relative paths against configDir.
	ResolvePaths(configDir string)

	// Validate returns an error if the configuration is invalid.
	Validate() error
}

// ApplyServiceConfigs runs the lifecycle on each config in order.
func ApplyServiceConfigs(configDir string, configs ...ServiceConfig) error {
	for _, cfg := range configs {
		cfg.ApplyDefaults()
		cfg.ApplyEnvOverrides()
		cfg.ResolvePaths(configDir)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// resolvePath resolves a relative path next to the config directory; a
// path starting with ".." is taken relative to the directory itself.
func resolvePath(configDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "..") {
		return filepath.Clean(filepath.Join(configDir, path))
	}
	return filepath.Clean(filepath.Join(filepath.Dir(configDir), path))
}
