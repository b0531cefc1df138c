package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boxbase/boxbase/internal/config"
	"github.com/boxbase/boxbase/internal/logging"
	"github.com/boxbase/boxbase/internal/services"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "boxbase:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// 0. Parse Command Line Flags
	fl, err := parseFlags(args)
	if err != nil {
		return err
	}

	// 1. Load Configuration
	cfg, err := config.Load(fl.configDir)
	if err != nil {
		return err
	}
	if err := fl.apply(cfg); err != nil {
		return err
	}

	if err := logging.Initialize(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logging.Shutdown() }()

	slog.Info("Starting boxbase",
		"config_dir", fl.configDir,
		"data_dir", cfg.Storage.DataDir,
		"events", cfg.Events.Provider)

	// 2. Initialize Service Manager
	mgr := services.NewManager(cfg, services.Options{
		ListenHost:     fl.host,
		DisableChanges: fl.noChanges,
	}, slog.Default())

	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer initCancel()

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		mgr.Shutdown(ctx)
	}

	if err := mgr.Init(initCtx); err != nil {
		shutdown()
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	// 3. Start Services
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	if err := mgr.Start(bgCtx); err != nil {
		shutdown()
		return fmt.Errorf("failed to start services: %w", err)
	}
	slog.Info("Listening", "addr", mgr.Server().Addr().String())

	// 4. Wait for Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		slog.Info("Shutting down", "signal", sig.String())
	case runErr = <-mgr.Errors():
	}

	shutdown()
	bgCancel()
	return runErr
}
