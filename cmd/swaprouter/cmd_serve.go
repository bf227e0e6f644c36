package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/swaprouter/internal/app"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the router in the configured mode (server, monitor or full)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := opts.loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if mode != "" {
				cfg.Mode = mode
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			logger.Info("swaprouter starting",
				slog.String("mode", cfg.Mode),
				slog.String("config", opts.configPath),
				slog.String("version", version),
			)

			application := app.New(cfg, logger)
			defer application.Close()

			if err := application.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("application exited with error", slog.String("error", err.Error()))
				return err
			}
			logger.Info("swaprouter stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "override mode from config")
	return cmd
}
