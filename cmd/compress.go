package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"kgload/internal/bootstrap/config"
	"kgload/internal/bootstrap/logging"
	"kgload/internal/errs"
	"kgload/internal/usecase/transform"
)

var compressCmd = newCompressCmd()

func newCompressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compress",
		Short: "Gzip every CSV in a directory for a compressed import",
		RunE: withConfig(func(cmd *cobra.Command, _ config.Config) error {
			ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

			src, _ := cmd.Flags().GetString("src")
			dst, _ := cmd.Flags().GetString("dst")
			level, _ := cmd.Flags().GetInt("level")
			workers, _ := cmd.Flags().GetInt("workers")
			if dst == "" {
				dst = src
			}

			results, total, err := transform.Compress(ctx, src, dst, level, workers)
			if err != nil {
				return errs.Wrap(err, "compress")
			}
			out := cmd.OutOrStdout()
			for _, r := range results {
				if _, err := fmt.Fprintf(out, "%s\t%s -> %s\t%.1f%%\n", r.Output,
					humanize.Bytes(uint64(r.OriginalSize)), humanize.Bytes(uint64(r.CompressedSize)), r.Ratio()); err != nil {
					return errs.Wrap(err, "write compress output")
				}
			}
			_, err = fmt.Fprintf(out, "total\t%s -> %s\t%.1f%%\n",
				humanize.Bytes(uint64(total.OriginalSize)), humanize.Bytes(uint64(total.CompressedSize)), total.Ratio())
			return errs.Wrap(err, "write compress output")
		}),
	}

	cmd.Flags().String("src", "", "Directory holding the CSV files")
	cmd.Flags().String("dst", "", "Directory receiving the .csv.gz files, defaults to --src")
	cmd.Flags().Int("level", transform.DefaultCompressionLevel, "Gzip level 1-9")
	cmd.Flags().Int("workers", 4, "Files compressed concurrently")
	_ = cmd.MarkFlagRequired("src")
	return cmd
}

func init() {
	rootCmd.AddCommand(compressCmd)
}
