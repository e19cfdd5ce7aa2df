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

var extractCmd = newExtractCmd()

func newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract the INSERT rows of one table from a SQL dump into CSV",
		RunE: withConfig(func(cmd *cobra.Command, cfg config.Config) error {
			ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

			in := transform.ExtractInput{CSV: cfg.CSVOptions()}
			in.Dump, _ = cmd.Flags().GetString("dump")
			in.Table, _ = cmd.Flags().GetString("table")
			in.Output, _ = cmd.Flags().GetString("output")

			stats, err := transform.ExtractInserts(ctx, in)
			if err != nil {
				return errs.Wrap(err, "extract inserts")
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "extract finished: statements=%d rows=%d\n", stats.Statements, stats.Rows)
			return errs.Wrap(err, "write extract output")
		}),
	}

	cmd.Flags().String("dump", "", "SQL dump, optionally compressed")
	cmd.Flags().String("table", "", "Table whose INSERT statements are extracted")
	cmd.Flags().String("output", "", "CSV output file")
	_ = cmd.MarkFlagRequired("dump")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func init() {
	rootCmd.AddCommand(extractCmd)
}
