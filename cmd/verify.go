package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/errs"
	"kgload/internal/usecase/pipeline"
)

var verifyCmd = newVerifyCmd(nil)

func newVerifyCmd(svc *pipeline.Service) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that the node and relationship store files are non-empty",
		RunE: serviceRunE(svc, func(cmd *cobra.Command, svc *pipeline.Service) error {
			if svc == nil {
				return errors.New("pipeline service is not configured")
			}
			ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

			storeDir, _ := cmd.Flags().GetString("store-dir")
			counts, _ := cmd.Flags().GetBool("counts")

			res, err := svc.Verify(ctx, storeDir, counts)
			out := cmd.OutOrStdout()
			for _, a := range res.Store {
				size := "missing or empty"
				if a.Size > 0 {
					size = humanize.Bytes(uint64(a.Size))
				}
				_, _ = fmt.Fprintf(out, "%s\t%s\t%s\n", a.Name, a.Path, size)
			}
			if res.Counts != nil {
				_, _ = fmt.Fprintf(out, "graph\tnodes=%s relationships=%s\n",
					humanize.Comma(res.Counts.Nodes), humanize.Comma(res.Counts.Relationships))
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, "verification passed")
			return errs.Wrap(err, "write verify output")
		}),
	}

	cmd.Flags().String("store-dir", "", "Database store directory (default from verify.store_dir)")
	cmd.Flags().Bool("counts", false, "Also query node and relationship counts over Bolt")
	return cmd
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
