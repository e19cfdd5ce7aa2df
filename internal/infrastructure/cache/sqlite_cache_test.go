package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"kgload/internal/infrastructure/persistence/sqlite/model"
)

func setupSQLiteCache(t *testing.T) *SQLiteCache {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "cache.sqlite")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.KV{}); err != nil {
		t.Fatalf("auto migrate kv_cache: %v", err)
	}
	return NewSQLiteCache(db)
}

func TestSQLiteCacheSetGetDelete(t *testing.T) {
	cache := setupSQLiteCache(t)
	ctx := context.Background()
	key := "fingerprint:semmed:join:predication"

	if err := cache.Set(ctx, key, "9f2c", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value, found, err := cache.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || value != "9f2c" {
		t.Fatalf("Get() = %q, found=%v", value, found)
	}

	if err := cache.Set(ctx, key, "a001", 0); err != nil {
		t.Fatalf("Set(update) error = %v", err)
	}
	value, found, err = cache.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || value != "a001" {
		t.Fatalf("Get() after update = %q, found=%v", value, found)
	}

	if err := cache.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	_, found, err = cache.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() after delete error = %v", err)
	}
	if found {
		t.Fatalf("Get() expected found=false after delete")
	}
}

func TestSQLiteCacheExpiry(t *testing.T) {
	cache := setupSQLiteCache(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	if err := cache.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, found, _ := cache.Get(ctx, "k"); !found {
		t.Fatalf("Get() before expiry expected found=true")
	}

	now = now.Add(2 * time.Minute)
	if _, found, _ := cache.Get(ctx, "k"); found {
		t.Fatalf("Get() after expiry expected found=false")
	}

	if err := cache.Set(ctx, "k", "v2", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if v, found, _ := cache.Get(ctx, "k"); !found || v != "v2" {
		t.Fatalf("Get() after reset = %q, %v", v, found)
	}
}

func TestSQLiteCacheRejectsEmptyKey(t *testing.T) {
	cache := setupSQLiteCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "", "v", 0); err == nil {
		t.Fatalf("Set() expected error for empty key")
	}
	if _, _, err := cache.Get(ctx, " "); err == nil {
		t.Fatalf("Get() expected error for empty key")
	}
	if err := cache.Delete(ctx, ""); err == nil {
		t.Fatalf("Delete() expected error for empty key")
	}
}
