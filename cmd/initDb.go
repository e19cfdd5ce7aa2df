package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"kgload/internal/bootstrap"
	"kgload/internal/bootstrap/logging"
	"kgload/internal/errs"
	"kgload/internal/usecase/pipeline"
)

var initDbCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create or migrate the run ledger schema",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, _ *pipeline.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		logging.Info(ctx, "start init-db")

		version, err := app.InitSchema(ctx)
		if err != nil {
			logging.Error(ctx, "initialize schema failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "initialize schema")
		}

		logging.Info(ctx, "init-db finished", slog.String("database_dsn", app.Config.Database.DSN))
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "ledger schema v%s ready: %s\n", version, app.Config.Database.DSN); err != nil {
			return errs.Wrap(err, "write init-db output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(initDbCmd)
}
