package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"kgload/internal/bootstrap/config"
	"kgload/internal/bootstrap/logging"
	"kgload/internal/errs"
	"kgload/internal/usecase/transform"
)

var dedupeCmd = newDedupeCmd()

func newDedupeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Merge rows that share their leading key columns",
		RunE: withConfig(func(cmd *cobra.Command, cfg config.Config) error {
			ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

			in := transform.DedupeInput{CSV: cfg.CSVOptions()}
			in.Input, _ = cmd.Flags().GetString("input")
			in.Output, _ = cmd.Flags().GetString("output")
			in.KeyColumns, _ = cmd.Flags().GetInt("key-columns")
			in.HasHeader, _ = cmd.Flags().GetBool("header")

			stats, err := transform.Dedupe(ctx, in)
			if err != nil {
				return errs.Wrap(err, "dedupe")
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "dedupe finished: rows=%d unique=%d short=%d\n",
				stats.Rows, stats.Unique, stats.ShortRows)
			return errs.Wrap(err, "write dedupe output")
		}),
	}

	cmd.Flags().String("input", "", "Input file")
	cmd.Flags().String("output", "", "Output file")
	cmd.Flags().Int("key-columns", transform.DefaultDedupeKeyColumns, "Leading columns that identify a row")
	cmd.Flags().Bool("header", false, "Input starts with a header row")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func init() {
	rootCmd.AddCommand(dedupeCmd)
}
