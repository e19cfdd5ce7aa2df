package ports

import (
	"context"
	"time"
)

// Cache is a small key-value store. Transforms keep input fingerprints in it
// so an unchanged stage can be skipped on the next run.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
