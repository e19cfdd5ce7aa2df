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

var sampleCmd = newSampleCmd()

func newSampleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Copy the first lines of every CSV in a directory",
		RunE: withConfig(func(cmd *cobra.Command, _ config.Config) error {
			ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

			src, _ := cmd.Flags().GetString("src")
			dst, _ := cmd.Flags().GetString("dst")
			lines, _ := cmd.Flags().GetInt64("lines")
			workers, _ := cmd.Flags().GetInt("workers")

			results, err := transform.Sample(ctx, src, dst, lines, workers)
			if err != nil {
				return errs.Wrap(err, "sample")
			}
			for _, r := range results {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d lines\n", r.File, r.Lines); err != nil {
					return errs.Wrap(err, "write sample output")
				}
			}
			return nil
		}),
	}

	cmd.Flags().String("src", "", "Directory holding the CSV files")
	cmd.Flags().String("dst", "", "Directory receiving the samples")
	cmd.Flags().Int64("lines", transform.DefaultSampleLines, "Lines kept per file")
	cmd.Flags().Int("workers", 4, "Files sampled concurrently")
	_ = cmd.MarkFlagRequired("src")
	_ = cmd.MarkFlagRequired("dst")
	return cmd
}

func init() {
	rootCmd.AddCommand(sampleCmd)
}
