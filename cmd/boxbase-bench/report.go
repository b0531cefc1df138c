package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/boxbase/boxbase/pkg/benchmark/types"
)

func reportProgress(w io.Writer, elapsed time.Duration, m *types.AggregatedMetrics) {
	fmt.Fprintf(w, "[%s] ops: %d | ok: %.1f%% | conflicts: %d | %.1f ops/s | p99: %s\n",
		elapsed.Truncate(time.Second),
		m.TotalOperations,
		m.SuccessRate,
		m.TotalConflicts,
		m.Throughput,
		micros(m.Latency.P99),
	)
}

func reportSummary(w io.Writer, res *types.Result) {
	fmt.Fprintf(w, "\n%s: %.1fs\n\n", res.Name, res.Duration)
	fmt.Fprintf(w, "%-8s %10s %8s %10s %10s %10s %10s %10s\n",
		"op", "count", "errors", "conflicts", "ops/s", "p50", "p95", "p99")

	row := func(name string, m *types.AggregatedMetrics) {
		fmt.Fprintf(w, "%-8s %10d %8d %10d %10.1f %10s %10s %10s\n",
			name, m.TotalOperations, m.TotalErrors, m.TotalConflicts, m.Throughput,
			micros(m.Latency.Median), micros(m.Latency.P95), micros(m.Latency.P99))
	}
	for _, name := range slices.Sorted(maps.Keys(res.Operations)) {
		row(name, res.Operations[name])
	}
	row("total", res.Summary)

	if len(res.Summary.ErrorsByType) > 0 {
		fmt.Fprintln(w, "\nerrors:")
		for _, msg := range slices.Sorted(maps.Keys(res.Summary.ErrorsByType)) {
			fmt.Fprintf(w, "  %6d  %s\n", res.Summary.ErrorsByType[msg], msg)
		}
	}
}

func micros(us int64) string {
	return (time.Duration(us) * time.Microsecond).String()
}
