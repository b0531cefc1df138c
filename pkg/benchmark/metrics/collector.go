// Package metrics aggregates benchmark operation results.
package metrics

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/boxbase/boxbase/pkg/benchmark/types"
)

// Collector implements types.MetricsCollector.
type Collector struct {
	mu        sync.Mutex
	startTime time.Time

	all          *stats
	byOperation  map[string]*stats
	errorsByType map[string]int64
}

type stats struct {
	count     int64
	failed    int64
	conflicts int64
	total     int64
	latencies []int64 // microseconds
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	c := &Collector{}
	c.Reset()
	return c
}

// RecordOperation records the result of a single operation. Conflicts are
// counted apart from failures.
func (c *Collector) RecordOperation(result *types.OperationResult) {
	if result == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	op := c.byOperation[result.OperationType]
	if op == nil {
		op = &stats{latencies: make([]int64, 0, 1024)}
		c.byOperation[result.OperationType] = op
	}

	latency := result.Duration.Microseconds()
	for _, s := range []*stats{c.all, op} {
		s.count++
		s.total += latency
		s.latencies = append(s.latencies, latency)
		switch {
		case result.Conflict:
			s.conflicts++
		case !result.Success:
			s.failed++
		}
	}
	if !result.Success && !result.Conflict && result.Error != nil {
		c.errorsByType[result.Error.Error()]++
	}
}

// GetSnapshot returns a copy of the current totals.
func (c *Collector) GetSnapshot() *types.AggregatedMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.all.aggregate(time.Since(c.startTime))
	m.ErrorsByType = maps.Clone(c.errorsByType)
	return m
}

// GetOperationMetrics returns the totals per operation type.
func (c *Collector) GetOperationMetrics() map[string]*types.AggregatedMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)
	result := make(map[string]*types.AggregatedMetrics, len(c.byOperation))
	for name, s := range c.byOperation {
		result[name] = s.aggregate(elapsed)
	}
	return result
}

// Reset resets all metrics.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.all = &stats{latencies: make([]int64, 0, 10000)}
	c.byOperation = make(map[string]*stats)
	c.errorsByType = make(map[string]int64)
}

func (s *stats) aggregate(elapsed time.Duration) *types.AggregatedMetrics {
	m := &types.AggregatedMetrics{
		TotalOperations: s.count,
		TotalErrors:     s.failed,
		TotalConflicts:  s.conflicts,
	}
	if s.count > 0 {
		m.SuccessRate = float64(s.count-s.failed-s.conflicts) / float64(s.count) * 100
	}
	if secs := elapsed.Seconds(); secs > 0 {
		m.Throughput = float64(s.count) / secs
	}

	if len(s.latencies) > 0 {
		sorted := slices.Clone(s.latencies)
		slices.Sort(sorted)
		m.Latency = types.LatencyStats{
			Min:    sorted[0],
			Max:    sorted[len(sorted)-1],
			Mean:   float64(s.total) / float64(len(sorted)),
			Median: percentile(sorted, 0.50),
			P90:    percentile(sorted, 0.90),
			P95:    percentile(sorted, 0.95),
			P99:    percentile(sorted, 0.99),
		}
	}
	return m
}

// percentile uses the nearest-rank method on sorted values.
func percentile(sorted []int64, p float64) int64 {
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
