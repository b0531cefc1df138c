package config

import (
	"errors"
	"os"
	"runtime"
	"strconv"
)

// StorageConfig locates base data and tunes the write pipeline.
type StorageConfig struct {
	// DataDir holds one directory per base.
	DataDir string `yaml:"data_dir"`

	// ApplyConcurrency bounds the per-document appliers of one transaction.
	ApplyConcurrency int `yaml:"apply_concurrency"`

	// InboxSize is the mailbox capacity of each base coordinator.
	InboxSize int `yaml:"inbox_size"`

	// BlockCacheSize is the pebble block cache of each base, in bytes.
	BlockCacheSize int64 `yaml:"block_cache_size"`
}

func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		DataDir:          "data",
		ApplyConcurrency: runtime.GOMAXPROCS(0),
		InboxSize:        256,
		BlockCacheSize:   8 << 20,
	}
}

func (c *StorageConfig) ApplyDefaults() {
	defaults := DefaultStorageConfig()
	if c.DataDir == "" {
		c.DataDir = defaults.DataDir
	}
	if c.ApplyConcurrency == 0 {
		c.ApplyConcurrency = defaults.ApplyConcurrency
	}
	if c.InboxSize == 0 {
		c.InboxSize = defaults.InboxSize
	}
	if c.BlockCacheSize == 0 {
		c.BlockCacheSize = defaults.BlockCacheSize
	}
}

// ApplyEnvOverrides reads BOXBASE_DATA_DIR and BOXBASE_APPLY_CONCURRENCY.
func (c *StorageConfig) ApplyEnvOverrides() {
	if v := os.Getenv("BOXBASE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("BOXBASE_APPLY_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ApplyConcurrency = n
		}
	}
}

func (c *StorageConfig) ResolvePaths(configDir string) {
	c.DataDir = resolvePath(configDir, c.DataDir)
}

func (c *StorageConfig) Validate() error {
	if c.DataDir == "" {
		return errors.New("storage.data_dir cannot be empty")
	}
	if c.ApplyConcurrency < 1 {
		return errors.New("storage.apply_concurrency must be positive")
	}
	if c.InboxSize < 1 {
		return errors.New("storage.inbox_size must be positive")
	}
	if c.BlockCacheSize < 0 {
		return errors.New("storage.block_cache_size cannot be negative")
	}
	return nil
}
