package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"kgload/internal/bootstrap/config"
	"kgload/internal/bootstrap/logging"
	"kgload/internal/errs"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "kgload",
	Short: "Prepare and bulk load biomedical knowledge graph dumps into Neo4j",
	Long: `kgload joins and enriches relational CSV dumps, runs the offline
neo4j-admin import between a service stop and start, and verifies the result.
Exit codes: 0 ok, 2 missing input, 3 malformed rows, 4 import failure,
5 verification failure, 6 startup timeout, 7 configuration, 1 anything else.`,
	SilenceUsage: true,
}

// Execute runs the root command. The returned error keeps the domain error
// chain so main can map it onto an exit code.
func Execute(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	logger := slog.New(slog.NewTextHandler(rootCmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	ctx = logging.WithLogger(ctx, logger)
	ctx = logging.WithAttrs(ctx, slog.String("app", "kgload"))

	rootCmd.SetContext(ctx)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logging.Error(ctx, "command execution failed", slog.Any("err", errs.Loggable(err)))
		return errs.Wrap(err, "execute root command")
	}

	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultFile, "Config file path")
}
