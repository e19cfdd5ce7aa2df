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
	"kgload/internal/errs"
	"kgload/internal/ports"
	"kgload/internal/usecase/pipeline"
)

var runsCmd = newRunsCmd(nil)

func newRunsCmd(svc *pipeline.Service) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded pipeline runs, or show one with --run",
		RunE: serviceRunE(svc, func(cmd *cobra.Command, svc *pipeline.Service) error {
			if svc == nil {
				return errors.New("pipeline service is not configured")
			}
			ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

			runID, _ := cmd.Flags().GetString("run")
			if strings.TrimSpace(runID) != "" {
				detail, err := svc.GetRun(ctx, runID)
				if err != nil {
					return errs.Wrapf(err, "get run %s", runID)
				}
				return errs.Wrap(writeRunDetail(cmd.OutOrStdout(), detail), "write run detail")
			}

			filter := ports.RunFilter{}
			filter.Dataset, _ = cmd.Flags().GetString("dataset")
			filter.Status, _ = cmd.Flags().GetString("status")
			filter.Limit, _ = cmd.Flags().GetInt("limit")
			runs, err := svc.ListRuns(ctx, filter)
			if err != nil {
				return errs.Wrap(err, "list runs")
			}
			return errs.Wrap(writeRuns(cmd.OutOrStdout(), runs, time.Now()), "write runs")
		}),
	}

	cmd.Flags().String("dataset", "", "Only runs of this dataset")
	cmd.Flags().String("status", "", "Only runs with this status (running|succeeded|failed)")
	cmd.Flags().Int("limit", 20, "Most recent runs to list")
	cmd.Flags().String("run", "", "Show the stages of one run")
	return cmd
}

func writeRuns(w io.Writer, runs []ports.PipelineRun, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN\tDATASET\tSTATUS\tSTARTED\tDURATION\tERROR")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		errText := "-"
		if r.ErrorCategory != "" {
			errText = r.ErrorCategory + "@" + r.ErrorStage
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.RunID, r.Dataset, r.Status,
			humanize.RelTime(r.StartedAt, now, "ago", "from now"), duration, errText)
	}
	return tw.Flush()
}

func writeRunDetail(w io.Writer, d pipeline.RunDetail) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "run %s dataset=%s status=%s manifest=%s\n", d.Run.RunID, d.Run.Dataset, d.Run.Status, d.Run.Manifest)
	if d.Run.ErrorMessage != "" {
		_, _ = fmt.Fprintf(tw, "error [%s/%s] %s\n", d.Run.ErrorStage, d.Run.ErrorCategory, firstLine(d.Run.ErrorMessage))
	}
	for _, s := range d.Stages {
		name := s.Stage
		if s.Name != "" {
			name += "/" + s.Name
		}
		_, _ = fmt.Fprintf(tw, "  %s\t%s\tin=%s\tout=%s\tbad=%d\tdropped=%d\t%s\t%s\n",
			name, s.Status, humanize.Comma(s.RowsIn), humanize.Comma(s.RowsOut), s.BadRows, s.Dropped,
			s.Duration.Round(time.Millisecond), firstLine(s.Detail))
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(runsCmd)
}
