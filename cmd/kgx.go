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

var kgxCmd = newKGXCmd()

func newKGXCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kgx",
		Short: "Convert KGX TSV nodes and edges into neo4j-admin import files",
		RunE: withConfig(func(cmd *cobra.Command, cfg config.Config) error {
			ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

			in := transform.KGXInput{Tolerance: toleranceFlag(cmd, cfg), CSV: cfg.CSVOptions()}
			in.Nodes, _ = cmd.Flags().GetString("nodes")
			in.Edges, _ = cmd.Flags().GetString("edges")
			in.NodesOut, _ = cmd.Flags().GetString("nodes-out")
			in.NodesHeader, _ = cmd.Flags().GetString("nodes-header")
			in.EdgesOut, _ = cmd.Flags().GetString("edges-out")
			in.EdgesHeader, _ = cmd.Flags().GetString("edges-header")

			stats, err := transform.ConvertKGX(ctx, in)
			if err != nil {
				return errs.Wrap(err, "convert kgx")
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "kgx finished: nodes=%d edges=%d bad_nodes=%d bad_edges=%d\n",
				stats.Nodes, stats.Edges, stats.BadNodes, stats.BadEdges)
			return errs.Wrap(err, "write kgx output")
		}),
	}

	cmd.Flags().String("nodes", "", "KGX nodes TSV")
	cmd.Flags().String("edges", "", "KGX edges TSV")
	cmd.Flags().String("nodes-out", "", "Node data output")
	cmd.Flags().String("nodes-header", "", "Node header output")
	cmd.Flags().String("edges-out", "", "Relationship data output")
	cmd.Flags().String("edges-header", "", "Relationship header output")
	cmd.Flags().Int64("tolerance", 0, "Malformed rows allowed before failing, negative for no limit (default from transform.tolerance)")
	_ = cmd.MarkFlagRequired("nodes")
	_ = cmd.MarkFlagRequired("edges")
	_ = cmd.MarkFlagRequired("nodes-out")
	_ = cmd.MarkFlagRequired("edges-out")
	return cmd
}

func init() {
	rootCmd.AddCommand(kgxCmd)
}
