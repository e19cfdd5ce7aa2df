package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"gorm.io/gorm"

	"kgload/internal/bootstrap/config"
	"kgload/internal/bootstrap/logging"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/persistence/schema"
)

type App struct {
	Config config.Config
	DB     *gorm.DB
}

// InitSchema migrates the run ledger and returns the schema version it ends at.
func (a *App) InitSchema(ctx context.Context) (string, error) {
	if ctx == nil {
		return "", errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return "", errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.app"))
	logging.Info(logCtx, "start schema migration")

	if err := schema.Migrate(ctx, a.DB); err != nil {
		return "", errs.Wrap(err, "migrate ledger schema")
	}
	version, err := schema.CurrentVersion(ctx, a.DB)
	if err != nil {
		return "", errs.Wrap(err, "read ledger schema version")
	}

	logging.Info(logCtx, "schema migration completed", slog.String("version", version))
	return version, nil
}

func (a *App) Close(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	sqlDB, err := a.DB.DB()
	if err != nil {
		return errs.Wrap(err, "get sql db")
	}

	if err := sqlDB.Close(); err != nil {
		return errs.Wrap(err, "close sql db")
	}

	logging.Debug(logging.WithAttrs(ctx, slog.String("component", "bootstrap.app")), "database connection closed")
	return nil
}

func isDebug(cfg config.Config) bool {
	return strings.EqualFold(strings.TrimSpace(cfg.Log.Level), "debug")
}
