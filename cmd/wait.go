package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"kgload/internal/bootstrap/config"
	"kgload/internal/bootstrap/logging"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/watch"
)

var waitCmd = newWaitCmd()

func newWaitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait FILE...",
		Short: "Block until every file exists and has stopped changing",
		Args:  cobra.MinimumNArgs(1),
		RunE: withConfig(func(cmd *cobra.Command, _ config.Config) error {
			ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

			opts := watch.Options{}
			opts.Timeout, _ = cmd.Flags().GetDuration("timeout")
			opts.Settle, _ = cmd.Flags().GetDuration("settle")

			files := cmd.Flags().Args()
			targets := make([]watch.Target, 0, len(files))
			for _, f := range files {
				targets = append(targets, watch.Target{Role: "input", Path: f})
			}
			if err := watch.WaitForFiles(ctx, targets, opts); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%d files ready\n", len(files))
			return errs.Wrap(err, "write wait output")
		}),
	}

	cmd.Flags().Duration("timeout", 0, "Give up after this long, 0 waits until interrupted")
	cmd.Flags().Duration("settle", 0, "Quiet period without writes before a file counts as ready")
	return cmd
}

func init() {
	rootCmd.AddCommand(waitCmd)
}
