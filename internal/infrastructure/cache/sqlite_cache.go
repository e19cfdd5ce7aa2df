package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kgload/internal/errs"
	"kgload/internal/infrastructure/persistence/sqlite/model"
	"kgload/internal/ports"
)

// SQLiteCache keeps transform fingerprints in the ledger database. A zero
// ttl stores the value without expiry.
type SQLiteCache struct {
	db  *gorm.DB
	now func() time.Time
}

var _ ports.Cache = (*SQLiteCache)(nil)

func NewSQLiteCache(db *gorm.DB) *SQLiteCache {
	return &SQLiteCache{db: db, now: time.Now}
}

func checkKey(ctx context.Context, key string) (string, error) {
	if ctx == nil {
		return "", errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return "", errs.Wrap(err, "check context")
	}
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", errors.New("key is required")
	}
	return trimmed, nil
}

func (c *SQLiteCache) Get(ctx context.Context, key string) (string, bool, error) {
	key, err := checkKey(ctx, key)
	if err != nil {
		return "", false, err
	}

	var row model.KV
	if err := c.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, errs.Wrap(err, "query cache by key")
	}
	if row.ExpiresAt != "" {
		expires, err := time.Parse(time.RFC3339Nano, row.ExpiresAt)
		if err == nil && !c.now().Before(expires) {
			return "", false, nil
		}
	}
	return row.Value, true, nil
}

func (c *SQLiteCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	key, err := checkKey(ctx, key)
	if err != nil {
		return err
	}

	now := c.now().UTC()
	row := model.KV{
		Key:       key,
		Value:     value,
		UpdatedAt: now.Format(time.RFC3339Nano),
	}
	if ttl > 0 {
		row.ExpiresAt = now.Add(ttl).Format(time.RFC3339Nano)
	}

	if err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      row.Value,
			"expires_at": row.ExpiresAt,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error; err != nil {
		return errs.Wrap(err, "upsert cache key")
	}
	return nil
}

func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	key, err := checkKey(ctx, key)
	if err != nil {
		return err
	}
	if err := c.db.WithContext(ctx).Where("key = ?", key).Delete(&model.KV{}).Error; err != nil {
		return errs.Wrap(err, "delete cache key")
	}
	return nil
}
