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

var joinCmd = newJoinCmd()

func newJoinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Append auxiliary columns to each primary row with the same key",
		RunE: withConfig(func(cmd *cobra.Command, cfg config.Config) error {
			ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

			in := transform.JoinInput{Tolerance: toleranceFlag(cmd, cfg), Workers: workersFlag(cmd, cfg), CSV: cfg.CSVOptions()}
			in.Primary, _ = cmd.Flags().GetString("primary")
			in.PrimaryHeader, _ = cmd.Flags().GetString("primary-header")
			in.PrimaryKey, _ = cmd.Flags().GetString("primary-key")
			in.Auxiliary, _ = cmd.Flags().GetString("auxiliary")
			in.AuxiliaryHeader, _ = cmd.Flags().GetString("auxiliary-header")
			in.AuxiliaryKey, _ = cmd.Flags().GetString("auxiliary-key")
			in.Output, _ = cmd.Flags().GetString("output")
			in.OutputHeader, _ = cmd.Flags().GetString("output-header")
			in.Mode, _ = cmd.Flags().GetString("mode")

			stats, err := transform.Join(ctx, in)
			if err != nil {
				return errs.Wrap(err, "join")
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"join finished: primary=%d auxiliary=%d matched=%d unmatched=%d dropped=%d bad=%d output=%d\n",
				stats.PrimaryRows, stats.AuxiliaryRows, stats.Matched, stats.Unmatched, stats.Dropped, stats.BadRows(), stats.OutputRows)
			return errs.Wrap(err, "write join output")
		}),
	}

	cmd.Flags().String("primary", "", "Primary table")
	cmd.Flags().String("primary-header", "", "Header file of the primary table")
	cmd.Flags().String("primary-key", "", "Primary key column, index or header name")
	cmd.Flags().String("auxiliary", "", "Auxiliary table")
	cmd.Flags().String("auxiliary-header", "", "Header file of the auxiliary table")
	cmd.Flags().String("auxiliary-key", "", "Auxiliary key column, index or header name")
	cmd.Flags().String("output", "", "Joined output file")
	cmd.Flags().String("output-header", "", "Header file written or checked for the output")
	cmd.Flags().String("mode", transform.JoinInner, "Join mode (inner|left)")
	addRowFlags(cmd)
	_ = cmd.MarkFlagRequired("primary")
	_ = cmd.MarkFlagRequired("primary-key")
	_ = cmd.MarkFlagRequired("auxiliary")
	_ = cmd.MarkFlagRequired("auxiliary-key")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func init() {
	rootCmd.AddCommand(joinCmd)
}
