package cmd

import (
	"github.com/spf13/cobra"

	"kgload/internal/usecase/pipeline"
)

var importCmd = newImportCmd(nil)

// newImportCmd is load without the transforms: the manifest's import files
// must already exist.
func newImportCmd(svc *pipeline.Service) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Stop the service, bulk import the manifest's files, restart and verify",
		RunE: serviceRunE(svc, func(cmd *cobra.Command, svc *pipeline.Service) error {
			in := pipeline.LoadInput{SkipTransforms: true}
			in.ManifestPath, _ = cmd.Flags().GetString("manifest")
			in.ConfirmOverwrite, _ = cmd.Flags().GetBool("confirm-overwrite")
			in.SkipVerify, _ = cmd.Flags().GetBool("skip-verify")
			return runLoad(cmd, svc, in)
		}),
	}

	cmd.Flags().String("manifest", "", "Dataset manifest (.toml, .yaml or .json)")
	cmd.Flags().Bool("confirm-overwrite", false, "Allow import.overwrite to replace the existing database")
	cmd.Flags().Bool("skip-verify", false, "Import even when no store directory or count query is configured")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

func init() {
	rootCmd.AddCommand(importCmd)
}
