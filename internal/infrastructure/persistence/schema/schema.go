// Package schema owns the ledger's migration set.
package schema

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kgload/internal/errs"
	"kgload/internal/infrastructure/persistence/sqlite/model"
)

// Version is bumped whenever a model changes shape.
const Version = "1"

type Meta struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Key       string    `gorm:"column:key;type:text;uniqueIndex;not null"`
	Value     string    `gorm:"column:value;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

func (Meta) TableName() string {
	return "kgload_meta"
}

// Models lists every table the ledger needs.
func Models() []any {
	return []any{
		&Meta{},
		&model.PipelineRun{},
		&model.StageResult{},
		&model.KV{},
	}
}

// Migrate creates or updates all tables and records the schema version.
func Migrate(ctx context.Context, db *gorm.DB) error {
	db = db.WithContext(ctx)
	if err := db.AutoMigrate(Models()...); err != nil {
		return errs.Wrap(err, "auto migrate schema")
	}
	row := Meta{Key: "schema_version", Value: Version}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error; err != nil {
		return errs.Wrap(err, "record schema version")
	}
	return nil
}

// CurrentVersion returns the recorded schema version, or "" before the
// first migration.
func CurrentVersion(ctx context.Context, db *gorm.DB) (string, error) {
	if !db.WithContext(ctx).Migrator().HasTable(&Meta{}) {
		return "", nil
	}
	var row Meta
	err := db.WithContext(ctx).Where("key = ?", "schema_version").Limit(1).Find(&row).Error
	if err != nil {
		return "", errs.Wrap(err, "query schema version")
	}
	return row.Value, nil
}
