package cmd

import (
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"kgload/internal/bootstrap"
	"kgload/internal/bootstrap/logging"
	"kgload/internal/errs"
	"kgload/internal/usecase/pipeline"
	"kgload/internal/usecase/runconsole"
)

var consoleRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Browse the run ledger in a terminal console",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *pipeline.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		dataset, _ := cmd.Flags().GetString("dataset")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		refreshInterval, _ := cmd.Flags().GetDuration("refresh-interval")

		model := runconsole.NewRunsModel(ctx, svc, runconsole.Options{
			Dataset:         dataset,
			Status:          status,
			Limit:           limit,
			RefreshInterval: refreshInterval,
		})

		program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := program.Run(); err != nil {
			return errs.Wrap(err, "run runs console")
		}
		return nil
	}),
}

func init() {
	consoleCmd.AddCommand(consoleRunsCmd)
	consoleRunsCmd.Flags().String("dataset", "", "Only runs of this dataset")
	consoleRunsCmd.Flags().String("status", "", "Initial status filter (running|succeeded|failed)")
	consoleRunsCmd.Flags().Int("limit", 50, "Most recent runs to show")
	consoleRunsCmd.Flags().Duration("refresh-interval", 5*time.Second, "Auto refresh interval")
}
