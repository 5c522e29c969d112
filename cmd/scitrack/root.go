package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/scitrack/config"
	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/pkg/log"
	"github.com/YuminosukeSato/scitrack/sinks"
	"github.com/YuminosukeSato/scitrack/tracking"
)

// appKeyType is the key for storing the app in the command context.
type appKeyType string

const appKey appKeyType = "app"

// app carries what subcommands share once flags and config are resolved.
type app struct {
	cfg    config.Config
	logger log.Logger
}

// openSink opens the configured backends. Tests replace it.
var openSink = func(ctx context.Context, cfg config.Config) (tracking.Sink, error) {
	return sinks.Open(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile   string
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:           "scitrack",
		Short:         "Inspect and sync experiment tracking runs",
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if logFormat != "" {
				cfg.Log.Format = logFormat
			}

			level, err := log.ParseLevel(cfg.Log.Level)
			if err != nil {
				return errors.NewValidationError("log-level", err.Error(), cfg.Log.Level)
			}
			logger, err := log.Setup(cmd.ErrOrStderr(), level, cfg.Log.Format)
			if err != nil {
				return errors.NewValidationError("log-format", err.Error(), cfg.Log.Format)
			}

			ctx := context.WithValue(cmd.Context(), appKey, &app{cfg: cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: console, json, slog")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newInspectCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appKey).(*app)
	if !ok || a == nil {
		return nil, errors.New("application not initialized")
	}
	return a, nil
}
