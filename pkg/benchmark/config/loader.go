// Package config loads and validates benchmark configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/boxbase/boxbase/pkg/benchmark/client"
	"github.com/boxbase/boxbase/pkg/benchmark/generator"
	"github.com/boxbase/boxbase/pkg/benchmark/types"
	"github.com/boxbase/boxbase/pkg/model"
)

// Load loads configuration from a YAML file. An empty path yields the
// defaults.
func Load(path string) (*types.Config, error) {
	var config types.Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	ApplyDefaults(&config)
	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// ApplyDefaults fills in zero values.
func ApplyDefaults(config *types.Config) {
	if config.Name == "" {
		config.Name = "boxbase-benchmark"
	}
	if config.Target == "" {
		config.Target = "http://localhost:8080"
	}
	if config.Duration == 0 {
		config.Duration = time.Minute
	}
	if config.Workers == 0 {
		config.Workers = 10
	}
	if config.Auth.Subject == "" {
		config.Auth.Subject = "benchmark"
	}
	if config.Data.Base == "" {
		config.Data.Base = "benchmark"
	}
	if config.Data.FieldsCount == 0 {
		config.Data.FieldsCount = 10
	}
	if config.Data.DocumentSize == "" {
		config.Data.DocumentSize = "1KB"
	}
	if config.Data.BatchSize == 0 {
		config.Data.BatchSize = 1
	}
	if config.Mix.Total() == 0 {
		config.Mix = types.MixConfig{Insert: 30, Update: 20, Get: 30, Query: 20}
	}
	if config.ReportInterval == 0 {
		config.ReportInterval = 5 * time.Second
	}
}

// Validate checks the configuration.
func Validate(config *types.Config) error {
	if _, err := client.ParseURL(config.Target); err != nil {
		return err
	}
	if config.Duration < 0 {
		return errors.New("duration cannot be negative")
	}
	if config.Workers < 1 {
		return errors.New("workers must be positive")
	}
	if !model.CheckBase(config.Data.Base) {
		return fmt.Errorf("invalid base name %q", config.Data.Base)
	}
	if _, err := generator.ParseSize(config.Data.DocumentSize); err != nil {
		return err
	}
	if config.Data.SeedData < 0 || config.Data.BatchSize < 1 {
		return errors.New("seed_data and batch_size must not be negative")
	}
	m := config.Mix
	if m.Insert < 0 || m.Update < 0 || m.Get < 0 || m.Query < 0 {
		return errors.New("mix weights cannot be negative")
	}
	return nil
}
