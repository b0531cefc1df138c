// Package types defines the configuration, results and interfaces shared by
// the benchmark packages.
package types

import (
	"time"
)

// Config holds the complete benchmark configuration.
type Config struct {
	Name     string        `yaml:"name"`
	Target   string        `yaml:"target"` // boxbase URL
	Duration time.Duration `yaml:"duration"`
	Workers  int           `yaml:"workers"`

	Auth AuthConfig `yaml:"auth"`
	Data DataConfig `yaml:"data"`
	Mix  MixConfig  `yaml:"mix"`

	// Interval between progress reports. 0 disables them.
	ReportInterval time.Duration `yaml:"report_interval"`
}

// AuthConfig holds authentication configuration. Token wins over Secret.
type AuthConfig struct {
	Token string `yaml:"token"`
	// Secret is the server's JWT secret, used to mint a token.
	Secret  string `yaml:"secret"`
	Subject string `yaml:"subject"`
}

// DataConfig holds data generation configuration.
type DataConfig struct {
	Base         string `yaml:"base"`
	DocumentSize string `yaml:"document_size"` // e.g. "1KB"
	FieldsCount  int    `yaml:"fields_count"`
	SeedData     int    `yaml:"seed_data"`
	// BatchSize is the number of boxes per insert transaction.
	BatchSize int `yaml:"batch_size"`
}

// MixConfig weighs the operation types against each other.
type MixConfig struct {
	Insert int `yaml:"insert"`
	Update int `yaml:"update"`
	Get    int `yaml:"get"`
	Query  int `yaml:"query"`
}

// Total returns the sum of all weights.
func (m MixConfig) Total() int {
	return m.Insert + m.Update + m.Get + m.Query
}

// Operation types.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpGet    = "get"
	OpQuery  = "query"
)

// OperationResult represents the result of a single operation execution.
type OperationResult struct {
	OperationType string
	StartTime     time.Time
	Duration      time.Duration
	Success       bool
	// Conflict is set when the write was rejected by a revision check.
	Conflict   bool
	Error      error
	StatusCode int
}

// Result holds the complete benchmark result.
type Result struct {
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  float64   `json:"duration_seconds"`

	Summary    *AggregatedMetrics            `json:"summary"`
	Operations map[string]*AggregatedMetrics `json:"operations"`
}

// AggregatedMetrics holds aggregated statistical metrics.
type AggregatedMetrics struct {
	TotalOperations int64   `json:"total_operations"`
	TotalErrors     int64   `json:"total_errors"`
	TotalConflicts  int64   `json:"total_conflicts"`
	SuccessRate     float64 `json:"success_rate"`

	// Operations per second
	Throughput float64 `json:"throughput"`

	Latency LatencyStats `json:"latency"`

	ErrorsByType map[string]int64 `json:"errors_by_type,omitempty"`
}

// LatencyStats holds latency statistics in microseconds.
type LatencyStats struct {
	Min    int64   `json:"min"`
	Max    int64   `json:"max"`
	Mean   float64 `json:"mean"`
	Median int64   `json:"median"`
	P90    int64   `json:"p90"`
	P95    int64   `json:"p95"`
	P99    int64   `json:"p99"`
}
