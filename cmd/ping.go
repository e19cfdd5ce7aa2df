package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/errs"
	"kgload/internal/usecase/pipeline"
)

var pingCmd = newPingCmd(nil)

func newPingCmd(svc *pipeline.Service) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Connect over Bolt and print node and relationship counts",
		RunE: serviceRunE(svc, func(cmd *cobra.Command, svc *pipeline.Service) error {
			if svc == nil {
				return errors.New("pipeline service is not configured")
			}
			ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

			counts, err := svc.Ping(ctx)
			if err != nil {
				return errs.Wrap(err, "ping graph database")
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "nodes=%s relationships=%s\n",
				humanize.Comma(counts.Nodes), humanize.Comma(counts.Relationships))
			labels := make([]string, 0, len(counts.Labels))
			for l := range counts.Labels {
				labels = append(labels, l)
			}
			sort.Strings(labels)
			for _, l := range labels {
				if _, err := fmt.Fprintf(out, "  %s\t%s\n", l, humanize.Comma(counts.Labels[l])); err != nil {
					return errs.Wrap(err, "write ping output")
				}
			}
			return nil
		}),
	}
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
