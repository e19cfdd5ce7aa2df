package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"kgload/internal/infrastructure/persistence/sqlite/model"
	"kgload/internal/ports"
)

func setupRunRepository(t *testing.T) *RunRepository {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "ledger.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&model.PipelineRun{}, &model.StageResult{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return NewRunRepository(db)
}

func TestRunLifecycle(t *testing.T) {
	repo := setupRunRepository(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := repo.CreateRun(ctx, ports.PipelineRun{RunID: "r1", Dataset: "semmed", Manifest: "semmed.toml", StartedAt: started}); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := repo.AppendStage(ctx, ports.StageResult{RunID: "r1", Stage: "join", Name: "predication", RowsIn: 3, RowsOut: 2, Dropped: 1, Duration: 1500 * time.Millisecond}); err != nil {
		t.Fatalf("AppendStage() error = %v", err)
	}
	if err := repo.AppendStage(ctx, ports.StageResult{RunID: "r1", Stage: "import", Status: ports.StageStatusFailed}); err != nil {
		t.Fatalf("AppendStage() error = %v", err)
	}
	if err := repo.FinishRun(ctx, ports.PipelineRun{RunID: "r1", Status: ports.RunStatusFailed, ErrorStage: "import", ErrorCategory: "import_failure", ErrorMessage: "exit 1"}); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	run, err := repo.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != ports.RunStatusFailed || run.ErrorCategory != "import_failure" || run.FinishedAt == nil {
		t.Fatalf("GetRun() = %+v", run)
	}
	if !run.StartedAt.Equal(started) {
		t.Fatalf("StartedAt = %v, want %v", run.StartedAt, started)
	}

	stages, err := repo.ListStages(ctx, "r1")
	if err != nil {
		t.Fatalf("ListStages() error = %v", err)
	}
	if len(stages) != 2 || stages[0].Stage != "join" || stages[1].Status != ports.StageStatusFailed {
		t.Fatalf("ListStages() = %+v", stages)
	}
	if stages[0].Duration != 1500*time.Millisecond || stages[0].Status != ports.StageStatusOK {
		t.Fatalf("stage[0] = %+v", stages[0])
	}
}

func TestListRunsFiltersAndOrders(t *testing.T) {
	repo := setupRunRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	runs := []ports.PipelineRun{
		{RunID: "a", Dataset: "semmed", StartedAt: base},
		{RunID: "b", Dataset: "primekg", StartedAt: base.Add(time.Hour)},
		{RunID: "c", Dataset: "semmed", StartedAt: base.Add(2 * time.Hour), Status: ports.RunStatusSucceeded},
	}
	for _, run := range runs {
		if err := repo.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun(%s) error = %v", run.RunID, err)
		}
	}

	got, err := repo.ListRuns(ctx, ports.RunFilter{Dataset: "semmed"})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(got) != 2 || got[0].RunID != "c" || got[1].RunID != "a" {
		t.Fatalf("ListRuns(dataset) = %+v", got)
	}

	got, err = repo.ListRuns(ctx, ports.RunFilter{Status: ports.RunStatusRunning, Limit: 1})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(got) != 1 || got[0].RunID != "b" {
		t.Fatalf("ListRuns(status, limit) = %+v", got)
	}
}

func TestRunNotFound(t *testing.T) {
	repo := setupRunRepository(t)
	ctx := context.Background()

	if _, err := repo.GetRun(ctx, "nope"); !errors.Is(err, ports.ErrRunNotFound) {
		t.Fatalf("GetRun() error = %v, want ErrRunNotFound", err)
	}
	if err := repo.FinishRun(ctx, ports.PipelineRun{RunID: "nope", Status: ports.RunStatusFailed}); !errors.Is(err, ports.ErrRunNotFound) {
		t.Fatalf("FinishRun() error = %v, want ErrRunNotFound", err)
	}
	if err := repo.CreateRun(ctx, ports.PipelineRun{}); err == nil {
		t.Fatalf("CreateRun() expected error for empty run id")
	}
}
