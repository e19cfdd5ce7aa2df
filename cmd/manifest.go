package cmd

import (
	"github.com/spf13/cobra"

	"kgload/internal/errs"
	"kgload/internal/manifest"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Dataset manifest helpers",
}

var manifestSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of dataset manifests",
	RunE: func(cmd *cobra.Command, _ []string) error {
		schema, err := manifest.JSONSchema()
		if err != nil {
			return errs.Wrap(err, "build manifest schema")
		}
		if _, err := cmd.OutOrStdout().Write(append(schema, '\n')); err != nil {
			return errs.Wrap(err, "write manifest schema")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(manifestCmd)
	manifestCmd.AddCommand(manifestSchemaCmd)
}
