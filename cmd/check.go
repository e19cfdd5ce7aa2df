package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/errs"
	"kgload/internal/usecase/pipeline"
)

var checkCmd = newCheckCmd(nil)

func newCheckCmd(svc *pipeline.Service) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a manifest and its inputs without running anything",
		RunE: serviceRunE(svc, func(cmd *cobra.Command, svc *pipeline.Service) error {
			if svc == nil {
				return errors.New("pipeline service is not configured")
			}
			ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

			in := pipeline.CheckInput{}
			in.ManifestPath, _ = cmd.Flags().GetString("manifest")
			in.ConfirmOverwrite, _ = cmd.Flags().GetBool("confirm-overwrite")
			in.SkipTransforms, _ = cmd.Flags().GetBool("skip-transforms")

			report, err := svc.Check(ctx, in)
			if err != nil {
				return err
			}

			var b strings.Builder
			fmt.Fprintf(&b, "dataset %s: %d inputs present\n", report.Dataset, len(report.Inputs))
			for _, s := range report.Steps {
				fmt.Fprintf(&b, "  step %s\n", s)
			}
			if report.Program != "" {
				fmt.Fprintf(&b, "  import %s %s\n", report.Program, strings.Join(report.Args, " "))
				if !report.HeadersChecked {
					b.WriteString("  headers not checked: import files are produced by the steps above\n")
				}
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), b.String())
			return errs.Wrap(err, "write check output")
		}),
	}

	cmd.Flags().String("manifest", "", "Dataset manifest (.toml, .yaml or .json)")
	cmd.Flags().Bool("confirm-overwrite", false, "Accept import.overwrite")
	cmd.Flags().Bool("skip-transforms", false, "Check the import files as they are")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
