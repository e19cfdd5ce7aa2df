package ports

import (
	"context"
	"time"
)

const (
	EventRunStarted  = "run.started"
	EventStageDone   = "stage.done"
	EventRunFinished = "run.finished"
)

type RunEvent struct {
	Type     string            `json:"type"`
	RunID    string            `json:"run_id"`
	Dataset  string            `json:"dataset"`
	Stage    string            `json:"stage,omitempty"`
	Status   string            `json:"status,omitempty"`
	Error    string            `json:"error,omitempty"`
	Counters map[string]int64  `json:"counters,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
	At       time.Time         `json:"at"`
}

type RunEventPublisher interface {
	Publish(ctx context.Context, event RunEvent) error
	Close() error
}
