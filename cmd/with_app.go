package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"kgload/internal/bootstrap"
	"kgload/internal/bootstrap/config"
	"kgload/internal/bootstrap/logging"
	"kgload/internal/errs"
	"kgload/internal/usecase/pipeline"
)

func withApp(run func(cmd *cobra.Command, app *bootstrap.App, svc *pipeline.Service) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := logging.WithAttrs(
			commandContext(cmd),
			slog.String("command", cmd.CommandPath()),
			slog.String("config_file", cfgFile),
		)

		var app *bootstrap.App
		var svc *pipeline.Service
		fxApp := fx.New(
			bootstrap.Module,
			fx.NopLogger,
			fx.Provide(func() context.Context { return ctx }),
			fx.Provide(
				fx.Annotate(
					func() string { return cfgFile },
					fx.ResultTags(`name:"configFile"`),
				),
			),
			fx.Populate(&app, &svc),
		)

		startCtx, cancelStart := context.WithTimeout(ctx, 10*time.Second)
		defer cancelStart()
		if err := fxApp.Start(startCtx); err != nil {
			logging.Error(ctx, "bootstrap application failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "start fx application")
		}

		defer func() {
			stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelStop()
			if err := fxApp.Stop(stopCtx); err != nil {
				logging.Error(ctx, "fx application stop failed", slog.Any("err", errs.Loggable(err)))
			}
		}()

		if err := useConfiguredLogger(cmd, app.Config); err != nil {
			return err
		}
		if err := run(cmd, app, svc); err != nil {
			return errs.Wrap(err, "run command")
		}
		return nil
	}
}

// withConfig is for commands that work on files only and never open the
// ledger.
func withConfig(run func(cmd *cobra.Command, cfg config.Config) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := logging.WithAttrs(commandContext(cmd), slog.String("command", cmd.CommandPath()))

		cfg, err := config.Load(ctx, cfgFile)
		if err != nil {
			logging.Error(ctx, "load config failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "load config")
		}
		if err := useConfiguredLogger(cmd, cfg); err != nil {
			return err
		}
		if err := run(cmd, cfg); err != nil {
			return errs.Wrap(err, "run command")
		}
		return nil
	}
}

// useConfiguredLogger swaps the bootstrap logger for the one log.level and
// log.format ask for.
func useConfiguredLogger(cmd *cobra.Command, cfg config.Config) error {
	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return errs.Wrap(err, "build logger")
	}
	cmd.SetContext(logging.WithLogger(commandContext(cmd), logger))
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// toleranceFlag returns --tolerance when given, otherwise the configured
// transform tolerance.
func toleranceFlag(cmd *cobra.Command, cfg config.Config) int64 {
	if cmd.Flags().Changed("tolerance") {
		v, _ := cmd.Flags().GetInt64("tolerance")
		return v
	}
	return cfg.Transform.Tolerance
}

func workersFlag(cmd *cobra.Command, cfg config.Config) int {
	if cmd.Flags().Changed("workers") {
		v, _ := cmd.Flags().GetInt("workers")
		return v
	}
	return cfg.Transform.Workers
}

func addRowFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("tolerance", 0, "Malformed rows allowed before failing, negative for no limit (default from transform.tolerance)")
	cmd.Flags().Int("workers", 1, "Row mapping workers (default from transform.workers)")
}

// serviceRunE runs fn against svc when one is given, as tests do, and against
// the service built by withApp otherwise.
func serviceRunE(svc *pipeline.Service, fn func(cmd *cobra.Command, svc *pipeline.Service) error) func(cmd *cobra.Command, args []string) error {
	if svc != nil {
		return func(cmd *cobra.Command, _ []string) error {
			return fn(cmd, svc)
		}
	}
	return withApp(func(cmd *cobra.Command, _ *bootstrap.App, appSvc *pipeline.Service) error {
		return fn(cmd, appSvc)
	})
}
