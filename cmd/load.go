package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/usecase/pipeline"
)

var loadCmd = newLoadCmd(nil)

func newLoadCmd(svc *pipeline.Service) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Run a manifest end to end: transforms, import, restart, verify",
		RunE: serviceRunE(svc, func(cmd *cobra.Command, svc *pipeline.Service) error {
			in := pipeline.LoadInput{}
			in.ManifestPath, _ = cmd.Flags().GetString("manifest")
			in.ConfirmOverwrite, _ = cmd.Flags().GetBool("confirm-overwrite")
			in.SkipTransforms, _ = cmd.Flags().GetBool("skip-transforms")
			in.SkipImport, _ = cmd.Flags().GetBool("skip-import")
			in.Force, _ = cmd.Flags().GetBool("force")
			in.SkipVerify, _ = cmd.Flags().GetBool("skip-verify")
			return runLoad(cmd, svc, in)
		}),
	}

	cmd.Flags().String("manifest", "", "Dataset manifest (.toml, .yaml or .json)")
	cmd.Flags().Bool("confirm-overwrite", false, "Allow import.overwrite to replace the existing database")
	cmd.Flags().Bool("skip-transforms", false, "Import the files named by the manifest as they are")
	cmd.Flags().Bool("skip-import", false, "Stop after the transforms")
	cmd.Flags().Bool("force", false, "Rerun transforms whose inputs did not change")
	cmd.Flags().Bool("skip-verify", false, "Import even when no store directory or count query is configured")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

func runLoad(cmd *cobra.Command, svc *pipeline.Service, in pipeline.LoadInput) error {
	if svc == nil {
		return errors.New("pipeline service is not configured")
	}
	ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

	res, err := svc.Load(ctx, in)
	if res.RunID != "" {
		if werr := writeLoadResult(cmd.OutOrStdout(), res, err); werr != nil && err == nil {
			return werr
		}
	}
	return err
}

func writeLoadResult(w io.Writer, res pipeline.LoadResult, runErr error) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "run %s dataset=%s\n", res.RunID, res.Dataset)
	for _, s := range res.Stages {
		name := s.Stage
		if s.Name != "" {
			name += "/" + s.Name
		}
		_, _ = fmt.Fprintf(tw, "  %s\t%s\tin=%s\tout=%s\tbad=%d\t%s\t%s\n",
			name, s.Status, humanize.Comma(s.RowsIn), humanize.Comma(s.RowsOut), s.BadRows,
			s.Duration.Round(time.Millisecond), firstLine(s.Detail))
	}
	if res.Counts != nil {
		_, _ = fmt.Fprintf(tw, "graph nodes=%s relationships=%s\n",
			humanize.Comma(res.Counts.Nodes), humanize.Comma(res.Counts.Relationships))
	}
	status := "succeeded"
	if runErr != nil {
		status = "failed"
	}
	_, _ = fmt.Fprintf(tw, "status %s\n", status)
	return tw.Flush()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func init() {
	rootCmd.AddCommand(loadCmd)
}
