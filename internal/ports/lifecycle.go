package ports

import (
	"context"
	"time"
)

// Lifecycle controls the graph database service around an offline import.
type Lifecycle interface {
	Stop(ctx context.Context) error
	Start(ctx context.Context) error
	WaitHealthy(ctx context.Context, timeout time.Duration) error
}
