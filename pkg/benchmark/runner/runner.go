// Package runner drives a scenario with a pool of workers for a fixed
// duration.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/boxbase/boxbase/pkg/benchmark/types"
)

// ProgressFunc receives periodic snapshots while the benchmark runs.
type ProgressFunc func(elapsed time.Duration, m *types.AggregatedMetrics)

// Runner executes a benchmark.
type Runner struct {
	config   *types.Config
	client   types.Client
	scenario types.Scenario
	metrics  types.MetricsCollector
	logger   *slog.Logger
	progress ProgressFunc
}

// New creates a runner. Every argument but logger is required.
func New(config *types.Config, client types.Client, scenario types.Scenario, metrics types.MetricsCollector, logger *slog.Logger) (*Runner, error) {
	switch {
	case config == nil:
		return nil, errors.New("config cannot be nil")
	case client == nil:
		return nil, errors.New("client cannot be nil")
	case scenario == nil:
		return nil, errors.New("scenario cannot be nil")
	case metrics == nil:
		return nil, errors.New("metrics collector cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		config:   config,
		client:   client,
		scenario: scenario,
		metrics:  metrics,
		logger:   logger.With("component", "benchmark"),
	}, nil
}

// OnProgress installs fn, called every config.ReportInterval.
func (r *Runner) OnProgress(fn ProgressFunc) {
	r.progress = fn
}

// Run sets the scenario up, then runs config.Workers workers until the
// duration elapses or ctx ends.
func (r *Runner) Run(ctx context.Context) (*types.Result, error) {
	r.logger.Info("Preparing scenario", "scenario", r.scenario.Name(), "seed", r.config.Data.SeedData)
	if err := r.scenario.Setup(ctx, r.client); err != nil {
		return nil, fmt.Errorf("scenario setup failed: %w", err)
	}
	r.metrics.Reset()

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, r.config.Duration)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for i := range r.config.Workers {
		g.Go(func() error {
			return r.work(gctx, i)
		})
	}
	if r.progress != nil && r.config.ReportInterval > 0 {
		g.Go(func() error {
			r.report(gctx, start)
			return nil
		})
	}
	err := g.Wait()
	end := time.Now()
	if err != nil {
		return nil, err
	}

	return &types.Result{
		Name:       r.config.Name,
		StartTime:  start,
		EndTime:    end,
		Duration:   end.Sub(start).Seconds(),
		Summary:    r.metrics.GetSnapshot(),
		Operations: r.metrics.GetOperationMetrics(),
	}, nil
}

func (r *Runner) work(ctx context.Context, id int) error {
	for ctx.Err() == nil {
		op, err := r.scenario.NextOperation()
		if err != nil {
			return fmt.Errorf("worker %d: %w", id, err)
		}
		res := op.Execute(ctx, r.client)
		if res == nil {
			continue
		}
		// Requests cut off by the end of the run are not measured.
		if res.Error != nil && ctx.Err() != nil {
			return nil
		}
		r.metrics.RecordOperation(res)
	}
	return nil
}

func (r *Runner) report(ctx context.Context, start time.Time) {
	ticker := time.NewTicker(r.config.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.progress(time.Since(start), r.metrics.GetSnapshot())
		}
	}
}
