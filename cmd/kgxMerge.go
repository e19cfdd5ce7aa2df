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

var kgxMergeCmd = newKGXMergeCmd()

func newKGXMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge per-ontology KGX node and edge TSVs into one pair",
		RunE: withConfig(func(cmd *cobra.Command, cfg config.Config) error {
			ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

			in := transform.KGXMergeInput{Tolerance: toleranceFlag(cmd, cfg), CSV: cfg.CSVOptions()}
			in.Nodes, _ = cmd.Flags().GetStringSlice("nodes")
			in.Edges, _ = cmd.Flags().GetStringSlice("edges")
			in.NodesOut, _ = cmd.Flags().GetString("nodes-out")
			in.EdgesOut, _ = cmd.Flags().GetString("edges-out")
			if len(in.Edges) > 0 && in.EdgesOut == "" {
				return fmt.Errorf("--edges-out is required with --edges")
			}

			stats, err := transform.MergeKGX(ctx, in)
			if err != nil {
				return errs.Wrap(err, "merge kgx")
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "kgx merge finished: nodes=%d duplicate_nodes=%d edges=%d bad_rows=%d\n",
				stats.Nodes, stats.DuplicateNodes, stats.Edges, stats.BadRows)
			return errs.Wrap(err, "write kgx merge output")
		}),
	}

	cmd.Flags().StringSlice("nodes", nil, "KGX node TSVs, first node per id wins")
	cmd.Flags().StringSlice("edges", nil, "KGX edge TSVs")
	cmd.Flags().String("nodes-out", "", "Merged nodes TSV")
	cmd.Flags().String("edges-out", "", "Merged edges TSV")
	cmd.Flags().Int64("tolerance", 0, "Malformed rows allowed before failing, negative for no limit (default from transform.tolerance)")
	_ = cmd.MarkFlagRequired("nodes")
	_ = cmd.MarkFlagRequired("nodes-out")
	return cmd
}

func init() {
	kgxCmd.AddCommand(kgxMergeCmd)
}
