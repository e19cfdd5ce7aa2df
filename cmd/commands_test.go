package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"kgload/internal/infrastructure/persistence/schema"
	sqliterepo "kgload/internal/infrastructure/persistence/sqlite/repository"
	"kgload/internal/ports"
	"kgload/internal/usecase/pipeline"
)

func TestLoadFlags(t *testing.T) {
	t.Parallel()

	cmd := newLoadCmd(nil)
	if err := cmd.ParseFlags([]string{
		"--manifest", "manifests/semmeddb.toml",
		"--confirm-overwrite",
		"--skip-import",
		"--force",
		"--skip-verify",
	}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	manifestPath, _ := cmd.Flags().GetString("manifest")
	if manifestPath != "manifests/semmeddb.toml" {
		t.Fatalf("manifest = %q, want manifests/semmeddb.toml", manifestPath)
	}
	for _, name := range []string{"confirm-overwrite", "skip-import", "force", "skip-verify"} {
		if v, _ := cmd.Flags().GetBool(name); !v {
			t.Fatalf("%s = false, want true", name)
		}
	}
	if v, _ := cmd.Flags().GetBool("skip-transforms"); v {
		t.Fatalf("skip-transforms = true, want false")
	}
}

func TestJoinFlags(t *testing.T) {
	t.Parallel()

	cmd := newJoinCmd()
	if err := cmd.ParseFlags([]string{
		"--primary", "PREDICATION.csv.gz",
		"--primary-key", "PREDICATION_ID",
		"--auxiliary", "PREDICATION_AUX.csv.gz",
		"--auxiliary-key", "1",
		"--output", "import/predication.csv",
		"--mode", "left",
		"--tolerance", "-1",
	}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	mode, _ := cmd.Flags().GetString("mode")
	if mode != "left" {
		t.Fatalf("mode = %q, want left", mode)
	}
	if !cmd.Flags().Changed("tolerance") {
		t.Fatalf("tolerance not marked as changed")
	}
	tolerance, _ := cmd.Flags().GetInt64("tolerance")
	if tolerance != -1 {
		t.Fatalf("tolerance = %d, want -1", tolerance)
	}
	if cmd.Flags().Changed("workers") {
		t.Fatalf("workers changed without being given")
	}
}

func TestCommandTreeHasEverySubcommand(t *testing.T) {
	want := []string{
		"join", "enrich", "dedupe", "kgx", "kgx merge", "kgsplit", "extract", "stats", "sample", "compress",
		"check", "import", "verify", "wait", "ping", "load", "runs", "init-db",
		"console runs", "manifest schema",
	}
	for _, path := range want {
		found, _, err := rootCmd.Find(strings.Fields(path))
		if err != nil || found == rootCmd {
			t.Fatalf("command %q not registered (err = %v)", path, err)
		}
	}
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return out.String(), err
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func TestJoinCommandWritesOutput(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"PREDICATION.csv":             "C1,p1,C2\nC2,p2,C9\n",
		"PREDICATION_AUX.csv":         "0.7,p1\n0.5,p2\n",
		"headers/predication.csv":     ":START_ID(Concept),PREDICATION_ID,:END_ID(Concept)\n",
		"headers/predication_aux.csv": "score:float,PREDICATION_ID\n",
	})

	out, err := execute(t, newJoinCmd(),
		"--primary", filepath.Join(dir, "PREDICATION.csv"),
		"--primary-header", filepath.Join(dir, "headers/predication.csv"),
		"--primary-key", "PREDICATION_ID",
		"--auxiliary", filepath.Join(dir, "PREDICATION_AUX.csv"),
		"--auxiliary-header", filepath.Join(dir, "headers/predication_aux.csv"),
		"--auxiliary-key", "PREDICATION_ID",
		"--output", filepath.Join(dir, "import/predication.csv"),
	)
	if err != nil {
		t.Fatalf("join error = %v", err)
	}
	if !strings.Contains(out, "matched=2") {
		t.Fatalf("output = %q", out)
	}
	data, err := os.ReadFile(filepath.Join(dir, "import/predication.csv"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "C1,p1,C2,0.7\nC2,p2,C9,0.5\n" {
		t.Fatalf("joined = %q", data)
	}
}

func newLedgerService(t *testing.T) (*pipeline.Service, *sqliterepo.RunRepository) {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "ledger.sqlite")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := schema.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := sqliterepo.NewRunRepository(db)
	return pipeline.NewService(pipeline.Deps{Runs: repo}, pipeline.Settings{}), repo
}

func TestRunsCommandListsAndShowsRuns(t *testing.T) {
	svc, repo := newLedgerService(t)
	ctx := context.Background()
	started := time.Now().Add(-time.Hour).UTC()
	finished := started.Add(2 * time.Minute)

	run := ports.PipelineRun{RunID: "run-1", Dataset: "semmeddb", Manifest: "semmed.toml", Status: ports.RunStatusRunning, StartedAt: started}
	if err := repo.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := repo.AppendStage(ctx, ports.StageResult{RunID: "run-1", Stage: "import", Status: ports.StageStatusFailed, Detail: "bulk import exited with code 1", RecordedAt: finished}); err != nil {
		t.Fatalf("AppendStage() error = %v", err)
	}
	run.Status = ports.RunStatusFailed
	run.FinishedAt = &finished
	run.ErrorStage = "import"
	run.ErrorCategory = "import_failure"
	run.ErrorMessage = "bulk import exited with code 1"
	if err := repo.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	out, err := execute(t, newRunsCmd(svc), "--dataset", "semmeddb")
	if err != nil {
		t.Fatalf("runs error = %v", err)
	}
	for _, want := range []string{"run-1", "semmeddb", "failed", "import_failure@import", "2m0s"} {
		if !strings.Contains(out, want) {
			t.Fatalf("runs output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, newRunsCmd(svc), "--run", "run-1")
	if err != nil {
		t.Fatalf("runs --run error = %v", err)
	}
	if !strings.Contains(out, "error [import/import_failure]") || !strings.Contains(out, "bulk import exited with code 1") {
		t.Fatalf("detail output:\n%s", out)
	}

	if _, err := execute(t, newRunsCmd(svc), "--run", "missing"); err == nil {
		t.Fatalf("runs --run missing expected error")
	}
}

func TestManifestSchemaCommandPrintsJSON(t *testing.T) {
	var out bytes.Buffer
	manifestSchemaCmd.SetOut(&out)
	defer manifestSchemaCmd.SetOut(nil)

	if err := manifestSchemaCmd.RunE(manifestSchemaCmd, nil); err != nil {
		t.Fatalf("manifest schema error = %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if doc["title"] != "kgload manifest" {
		t.Fatalf("title = %v", doc["title"])
	}
}

func TestWriteLoadResult(t *testing.T) {
	var out bytes.Buffer
	res := pipeline.LoadResult{
		RunID:   "run-9",
		Dataset: "primekg",
		Stages: []ports.StageResult{
			{Stage: "join", Name: "predication", Status: ports.StageStatusOK, RowsIn: 12000, RowsOut: 11990, BadRows: 10},
		},
		Counts: &ports.GraphCounts{Nodes: 129375, Relationships: 4050249},
	}
	if err := writeLoadResult(&out, res, nil); err != nil {
		t.Fatalf("writeLoadResult() error = %v", err)
	}
	text := out.String()
	for _, want := range []string{"run run-9 dataset=primekg", "join/predication", "in=12,000", "nodes=129,375", "status succeeded"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}
