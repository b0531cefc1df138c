package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/boxbase/boxbase/pkg/benchmark/client"
	"github.com/boxbase/boxbase/pkg/benchmark/config"
	"github.com/boxbase/boxbase/pkg/benchmark/metrics"
	"github.com/boxbase/boxbase/pkg/benchmark/runner"
	"github.com/boxbase/boxbase/pkg/benchmark/scenario"
	"github.com/boxbase/boxbase/pkg/benchmark/types"
	"github.com/boxbase/boxbase/pkg/benchmark/utils"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "boxbase-bench:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("boxbase-bench", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "benchmark config file")
	target := flags.StringP("target", "t", "", "server URL")
	duration := flags.DurationP("duration", "d", 0, "run time")
	workers := flags.IntP("workers", "w", 0, "concurrent workers")
	base := flags.String("base", "", "base to write to")
	jsonOut := flags.Bool("json", false, "print the result as JSON")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *target != "" {
		cfg.Target = *target
	}
	if *duration != 0 {
		cfg.Duration = *duration
	}
	if *workers != 0 {
		cfg.Workers = *workers
	}
	if *base != "" {
		cfg.Data.Base = *base
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	token, err := utils.LoadToken(cfg.Auth, cfg.Duration+time.Hour)
	if err != nil {
		return fmt.Errorf("failed to load auth token: %w", err)
	}
	c, err := client.NewHTTPClient(cfg.Target, token)
	if err != nil {
		return err
	}
	defer c.Close()

	sc, err := scenario.NewMixedScenario(cfg)
	if err != nil {
		return err
	}
	r, err := runner.New(cfg, c, sc, metrics.NewCollector(), slog.Default())
	if err != nil {
		return err
	}
	if !*jsonOut {
		r.OnProgress(func(elapsed time.Duration, m *types.AggregatedMetrics) {
			reportProgress(out, elapsed, m)
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := r.Run(ctx)
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	reportSummary(out, res)
	return nil
}
