package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"kgload/internal/bootstrap/config"
	"kgload/internal/bootstrap/logging"
	"kgload/internal/errs"
)

// ledgerPragmas keep concurrent readers (the run console) from failing while
// a load is writing stages.
var ledgerPragmas = []string{"busy_timeout(5000)", "journal_mode(WAL)", "foreign_keys(1)"}

// Open opens the run ledger. SQL statements are logged only at debug level.
func Open(ctx context.Context, cfg config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.database"))

	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "sqlite3":
		if err := ensureSQLiteDirectory(logCtx, cfg.DSN); err != nil {
			return nil, errs.Wrap(err, "ensure sqlite directory")
		}

		level := gormlogger.Silent
		if debug {
			level = gormlogger.Info
		}
		db, err := gorm.Open(gormsqlite.Open(withPragmas(cfg.DSN)), &gorm.Config{
			Logger: gormlogger.Default.LogMode(level),
		})
		if err != nil {
			return nil, errs.Wrap(err, "open sqlite db")
		}
		logging.Debug(logCtx, "database opened", slog.String("driver", "sqlite"), slog.String("dsn", cfg.DSN))
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func ensureSQLiteDirectory(ctx context.Context, dsn string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	candidate := strings.TrimSpace(dsn)
	if candidate == "" || candidate == ":memory:" {
		return nil
	}

	if strings.HasPrefix(strings.ToLower(candidate), "file:") {
		candidate = strings.TrimPrefix(candidate, "file:")
	}
	if idx := strings.Index(candidate, "?"); idx >= 0 {
		candidate = candidate[:idx]
	}

	dir := filepath.Dir(candidate)
	if dir == "" || dir == "." {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrapf(err, "create sqlite directory %q", dir)
	}

	logging.Debug(logging.WithAttrs(ctx, slog.String("component", "bootstrap.database")), "sqlite directory ensured", slog.String("dir", dir))
	return nil
}

// withPragmas appends the ledger pragmas to a file DSN that sets none.
func withPragmas(dsn string) string {
	lower := strings.ToLower(dsn)
	if dsn == "" || lower == ":memory:" || strings.Contains(lower, "mode=memory") || strings.Contains(lower, "_pragma=") {
		return dsn
	}
	params := make([]string, 0, len(ledgerPragmas))
	for _, p := range ledgerPragmas {
		params = append(params, "_pragma="+p)
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}
