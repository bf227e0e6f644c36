package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/swaprouter/internal/config"
)

// Set by -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "swaprouter",
		Short:         "Smart order router for multi-venue swaps",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.toml", "path to configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log_level from config")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newPlanCmd(opts))
	root.AddCommand(newSecretCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// loadConfig reads and validates configuration and builds the process
// logger from it.
func (o *rootOptions) loadConfig() (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config %s: %w", o.configPath, err)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}
	logger, closeLog := newLogger(cfg)
	slog.SetDefault(logger)
	return cfg, logger, closeLog, nil
}
