package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"kgload/internal/errs"
	"kgload/internal/infrastructure/persistence/sqlite/model"
	"kgload/internal/ports"
)

const defaultRunLimit = 50

type RunRepository struct {
	db *gorm.DB
}

var _ ports.RunRepository = (*RunRepository)(nil)

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return r.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

func (r *RunRepository) CreateRun(ctx context.Context, run ports.PipelineRun) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(run.RunID) == "" {
		return errors.New("run id is required")
	}
	if run.Status == "" {
		run.Status = ports.RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	row := toRunModel(run)
	if err := db.Create(&row).Error; err != nil {
		return errs.Wrapf(err, "create run %s", run.RunID)
	}
	return nil
}

func (r *RunRepository) FinishRun(ctx context.Context, run ports.PipelineRun) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}
	finished := time.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}

	res := db.Model(&model.PipelineRun{}).
		Where("run_id = ?", run.RunID).
		Updates(map[string]any{
			"status":         run.Status,
			"error_stage":    run.ErrorStage,
			"error_category": run.ErrorCategory,
			"error_message":  run.ErrorMessage,
			"finished_at":    formatTime(finished),
		})
	if res.Error != nil {
		return errs.Wrapf(res.Error, "finish run %s", run.RunID)
	}
	if res.RowsAffected == 0 {
		return errs.Wrapf(ports.ErrRunNotFound, "finish run %s", run.RunID)
	}
	return nil
}

func (r *RunRepository) AppendStage(ctx context.Context, stage ports.StageResult) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}
	if stage.RecordedAt.IsZero() {
		stage.RecordedAt = time.Now()
	}
	if stage.Status == "" {
		stage.Status = ports.StageStatusOK
	}

	row := model.StageResult{
		RunID:      stage.RunID,
		Stage:      stage.Stage,
		Name:       stage.Name,
		Status:     stage.Status,
		RowsIn:     stage.RowsIn,
		RowsOut:    stage.RowsOut,
		BadRows:    stage.BadRows,
		Dropped:    stage.Dropped,
		DurationMS: stage.Duration.Milliseconds(),
		Detail:     stage.Detail,
		RecordedAt: formatTime(stage.RecordedAt),
	}
	if err := db.Create(&row).Error; err != nil {
		return errs.Wrapf(err, "append stage %s for run %s", stage.Stage, stage.RunID)
	}
	return nil
}

func (r *RunRepository) ListRuns(ctx context.Context, filter ports.RunFilter) ([]ports.PipelineRun, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.PipelineRun{})
	if dataset := strings.TrimSpace(filter.Dataset); dataset != "" {
		query = query.Where("dataset = ?", dataset)
	}
	if status := strings.TrimSpace(filter.Status); status != "" {
		query = query.Where("status = ?", status)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}

	var rows []model.PipelineRun
	if err := query.Order("started_at desc").Order("run_id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query runs")
	}

	items := make([]ports.PipelineRun, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapRun(row))
	}
	return items, nil
}

func (r *RunRepository) GetRun(ctx context.Context, runID string) (ports.PipelineRun, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.PipelineRun{}, err
	}

	var row model.PipelineRun
	if err := db.Where("run_id = ?", runID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.PipelineRun{}, errs.Wrapf(ports.ErrRunNotFound, "get run %s", runID)
		}
		return ports.PipelineRun{}, errs.Wrapf(err, "get run %s", runID)
	}
	return mapRun(row), nil
}

func (r *RunRepository) ListStages(ctx context.Context, runID string) ([]ports.StageResult, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.StageResult
	if err := db.Where("run_id = ?", runID).Order("stage_result_id asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrapf(err, "query stages of run %s", runID)
	}

	items := make([]ports.StageResult, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.StageResult{
			RunID:      row.RunID,
			Stage:      row.Stage,
			Name:       row.Name,
			Status:     row.Status,
			RowsIn:     row.RowsIn,
			RowsOut:    row.RowsOut,
			BadRows:    row.BadRows,
			Dropped:    row.Dropped,
			Duration:   time.Duration(row.DurationMS) * time.Millisecond,
			Detail:     row.Detail,
			RecordedAt: parseTime(row.RecordedAt),
		})
	}
	return items, nil
}

func toRunModel(run ports.PipelineRun) model.PipelineRun {
	row := model.PipelineRun{
		RunID:         run.RunID,
		Dataset:       run.Dataset,
		Manifest:      run.Manifest,
		Status:        run.Status,
		ErrorStage:    run.ErrorStage,
		ErrorCategory: run.ErrorCategory,
		ErrorMessage:  run.ErrorMessage,
		StartedAt:     formatTime(run.StartedAt),
	}
	if run.FinishedAt != nil {
		s := formatTime(*run.FinishedAt)
		row.FinishedAt = &s
	}
	return row
}

func mapRun(row model.PipelineRun) ports.PipelineRun {
	run := ports.PipelineRun{
		RunID:         row.RunID,
		Dataset:       row.Dataset,
		Manifest:      row.Manifest,
		Status:        row.Status,
		ErrorStage:    row.ErrorStage,
		ErrorCategory: row.ErrorCategory,
		ErrorMessage:  row.ErrorMessage,
		StartedAt:     parseTime(row.StartedAt),
	}
	if row.FinishedAt != nil {
		t := parseTime(*row.FinishedAt)
		run.FinishedAt = &t
	}
	return run
}

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
