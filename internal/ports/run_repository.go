package ports

import (
	"context"
	"errors"
	"time"
)

var ErrRunNotFound = errors.New("pipeline run not found")

const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"

	StageStatusOK      = "ok"
	StageStatusFailed  = "failed"
	StageStatusSkipped = "skipped"
)

type PipelineRun struct {
	RunID         string
	Dataset       string
	Manifest      string
	Status        string
	ErrorStage    string
	ErrorCategory string
	ErrorMessage  string
	StartedAt     time.Time
	FinishedAt    *time.Time
}

type StageResult struct {
	RunID      string
	Stage      string
	Name       string
	Status     string
	RowsIn     int64
	RowsOut    int64
	BadRows    int64
	Dropped    int64
	Duration   time.Duration
	Detail     string
	RecordedAt time.Time
}

type RunFilter struct {
	Dataset string
	Status  string
	Limit   int
}

type RunReadRepository interface {
	ListRuns(ctx context.Context, filter RunFilter) ([]PipelineRun, error)
	GetRun(ctx context.Context, runID string) (PipelineRun, error)
	ListStages(ctx context.Context, runID string) ([]StageResult, error)
}

type RunRepository interface {
	RunReadRepository
	CreateRun(ctx context.Context, run PipelineRun) error
	FinishRun(ctx context.Context, run PipelineRun) error
	AppendStage(ctx context.Context, stage StageResult) error
}
