package cmd

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"kgload/internal/bootstrap/config"
	"kgload/internal/bootstrap/logging"
	"kgload/internal/errs"
	"kgload/internal/usecase/transform"
)

var statsCmd = newStatsCmd()

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats FILE...",
		Short: "Count relationship types across import files",
		Args:  cobra.MinimumNArgs(1),
		RunE: withConfig(func(cmd *cobra.Command, cfg config.Config) error {
			ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

			column, _ := cmd.Flags().GetInt("column")
			perFile, _ := cmd.Flags().GetBool("per-file")
			top, _ := cmd.Flags().GetInt("top")

			stats, err := transform.CountTypes(ctx, cmd.Flags().Args(), column, cfg.CSVOptions())
			if err != nil {
				return errs.Wrap(err, "count types")
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if perFile {
				for _, f := range stats.Files {
					writeTypeCounts(tw, f, top)
				}
			}
			writeTypeCounts(tw, stats.Total, top)
			return errs.Wrap(tw.Flush(), "write stats output")
		}),
	}

	cmd.Flags().Int("column", transform.DefaultTypeColumn, "Zero-based column holding the type")
	cmd.Flags().Bool("per-file", false, "Also print counts per file")
	cmd.Flags().Int("top", 0, "Print only the N most frequent types, 0 for all")
	return cmd
}

func writeTypeCounts(w *tabwriter.Writer, s transform.FileTypeStats, top int) {
	name := s.File
	if name == "" {
		name = "total"
	}
	_, _ = fmt.Fprintf(w, "%s\t%s rows\t\n", name, humanize.Comma(s.Total))
	for i, c := range s.Counts {
		if top > 0 && i >= top {
			break
		}
		_, _ = fmt.Fprintf(w, "  %s\t%s\t%.2f%%\n", c.Value, humanize.Comma(c.Count), c.Percent)
	}
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
