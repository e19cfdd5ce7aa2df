package pipeline

import (
	"context"
	"errors"
	"strings"

	"kgload/internal/ports"
)

var errRunIDRequired = errors.New("run id is required")

type RunDetail struct {
	Run    ports.PipelineRun
	Stages []ports.StageResult
}

func (s *Service) ListRuns(ctx context.Context, filter ports.RunFilter) ([]ports.PipelineRun, error) {
	if ctx == nil {
		return nil, errContextRequired
	}
	if s.runs == nil {
		return nil, errors.New("run repository is required")
	}
	return s.runs.ListRuns(ctx, filter)
}

// GetRun returns a run with its stages in the order they were recorded.
func (s *Service) GetRun(ctx context.Context, runID string) (RunDetail, error) {
	if ctx == nil {
		return RunDetail{}, errContextRequired
	}
	if s.runs == nil {
		return RunDetail{}, errors.New("run repository is required")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return RunDetail{}, errRunIDRequired
	}

	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return RunDetail{}, err
	}
	stages, err := s.runs.ListStages(ctx, runID)
	if err != nil {
		return RunDetail{}, err
	}
	return RunDetail{Run: run, Stages: stages}, nil
}
