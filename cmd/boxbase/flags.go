package main

import (
	"github.com/spf13/pflag"

	"github.com/boxbase/boxbase/internal/config"
)

type flags struct {
	set *pflag.FlagSet

	configDir string
	host      string
	port      int
	dataDir   string
	logLevel  string
	noChanges bool
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{set: pflag.NewFlagSet("boxbase", pflag.ContinueOnError)}
	f.set.StringVarP(&f.configDir, "config-dir", "c", "configs", "directory holding config.yml and config.local.yml")
	f.set.StringVar(&f.host, "host", "", "listen host, overrides server.host")
	f.set.IntVarP(&f.port, "port", "p", 0, "HTTP port, overrides server.http_port")
	f.set.StringVar(&f.dataDir, "data-dir", "", "base directory, overrides storage.data_dir")
	f.set.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	f.set.BoolVar(&f.noChanges, "no-changes", false, "disable the _changes stream")

	if err := f.set.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// apply lays explicitly set flags over cfg and validates the result.
func (f *flags) apply(cfg *config.Config) error {
	if f.set.Changed("port") {
		cfg.Server.HTTPPort = f.port
	}
	if f.set.Changed("data-dir") {
		cfg.Storage.DataDir = f.dataDir
	}
	if f.set.Changed("log-level") {
		cfg.Logging.Level = f.logLevel
		cfg.Logging.Console.Level = f.logLevel
		cfg.Logging.File.Level = f.logLevel
	}
	if f.set.Changed("data-dir") || f.set.Changed("port") || f.set.Changed("log-level") {
		return cfg.Apply(f.configDir)
	}
	return nil
}
