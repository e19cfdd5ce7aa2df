package ports

import "context"

type GraphCounts struct {
	Nodes         int64
	Relationships int64
	Labels        map[string]int64
}

// GraphProbe talks to the running database over Bolt.
type GraphProbe interface {
	Ping(ctx context.Context) error
	Counts(ctx context.Context) (GraphCounts, error)
	Apply(ctx context.Context, statements []string) error
	Close(ctx context.Context) error
}
