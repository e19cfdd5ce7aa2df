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

var enrichCmd = newEnrichCmd()

func newEnrichCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Flag target rows found in a reference table and append their score",
		RunE: withConfig(func(cmd *cobra.Command, cfg config.Config) error {
			ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

			in := transform.EnrichInput{Tolerance: toleranceFlag(cmd, cfg), Workers: workersFlag(cmd, cfg), CSV: cfg.CSVOptions()}
			in.Reference, _ = cmd.Flags().GetString("reference")
			in.ReferenceHeader, _ = cmd.Flags().GetString("reference-header")
			in.ReferenceKey, _ = cmd.Flags().GetString("reference-key")
			in.ReferenceScore, _ = cmd.Flags().GetString("reference-score")
			in.Target, _ = cmd.Flags().GetString("target")
			in.TargetHeader, _ = cmd.Flags().GetString("target-header")
			in.TargetKey, _ = cmd.Flags().GetString("target-key")
			in.Output, _ = cmd.Flags().GetString("output")
			in.OutputHeader, _ = cmd.Flags().GetString("output-header")
			in.FlagColumn, _ = cmd.Flags().GetString("flag-column")
			in.ScoreColumn, _ = cmd.Flags().GetString("score-column")

			stats, err := transform.Enrich(ctx, in)
			if err != nil {
				return errs.Wrap(err, "enrich")
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"enrich finished: reference=%d duplicates=%d target=%d flagged=%d bad=%d output=%d\n",
				stats.ReferenceRows, stats.ReferenceDuplicates, stats.TargetRows, stats.Flagged, stats.BadRows(), stats.OutputRows)
			return errs.Wrap(err, "write enrich output")
		}),
	}

	cmd.Flags().String("reference", "", "Reference table of key and score")
	cmd.Flags().String("reference-header", "", "Header file of the reference table")
	cmd.Flags().String("reference-key", "0", "Reference key column")
	cmd.Flags().String("reference-score", "1", "Reference score column")
	cmd.Flags().String("target", "", "Target table")
	cmd.Flags().String("target-header", "", "Header file of the target table")
	cmd.Flags().String("target-key", "0", "Target key column")
	cmd.Flags().String("output", "", "Enriched output file")
	cmd.Flags().String("output-header", "", "Header file written or checked for the output")
	cmd.Flags().String("flag-column", transform.DefaultFlagColumn, "Header token of the appended flag column")
	cmd.Flags().String("score-column", transform.DefaultScoreColumn, "Header token of the appended score column")
	addRowFlags(cmd)
	_ = cmd.MarkFlagRequired("reference")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func init() {
	rootCmd.AddCommand(enrichCmd)
}
