package neo4jadmin_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"kgload/internal/domain/kgload"
	"kgload/internal/infrastructure/csvio"
	"kgload/internal/infrastructure/neo4jadmin"
	"kgload/internal/infrastructure/neo4jadmin/neo4jadmintest"
	"kgload/internal/ports"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestPlanCommandDialect5(t *testing.T) {
	plan := neo4jadmin.Plan{
		Nodes:         []neo4jadmin.Group{{Label: "Concept", Header: "/data/c.header", Files: []string{"/data/c.csv"}}},
		Relationships: []neo4jadmin.Group{{Header: "/data/p.header", Files: []string{"/data/p1.csv", "/data/p2.csv"}}},
		Options: neo4jadmin.Options{
			Delimiter:            ",",
			ArrayDelimiter:       ";",
			IDType:               "string",
			SkipDuplicateNodes:   true,
			SkipBadRelationships: true,
			BadTolerance:         1000000,
			Overwrite:            true,
			HighIO:               true,
			Threads:              8,
		},
	}

	program, args, err := plan.Command()
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	want := []string{
		"database", "import", "full",
		"--nodes=Concept=/data/c.header,/data/c.csv",
		"--relationships=/data/p.header,/data/p1.csv,/data/p2.csv",
		"--delimiter=,",
		"--array-delimiter=;",
		"--id-type=string",
		"--skip-duplicate-nodes=true",
		"--skip-bad-relationships=true",
		"--bad-tolerance=1000000",
		"--overwrite-destination=true",
		"--threads=8",
		"--high-parallel-io=on",
		"neo4j",
	}
	if program != "neo4j-admin" || !reflect.DeepEqual(args, want) {
		t.Fatalf("Command() = %s %v\nwant %v", program, args, want)
	}
}

func TestPlanCommandDialect4WithPrefixAndPathMapping(t *testing.T) {
	plan := neo4jadmin.Plan{
		Nodes: []neo4jadmin.Group{{Header: "/srv/import/c.header", Files: []string{"/srv/import/c.csv.gz"}}},
		Options: neo4jadmin.Options{
			Dialect:      neo4jadmin.Dialect4,
			Prefix:       []string{"docker", "exec", "neo4j"},
			Database:     "semmed",
			IDType:       "integer",
			BadTolerance: -1,
			HighIO:       true,
			HostDir:      "/srv/import",
			ImportDir:    "/import",
		},
	}

	program, args, err := plan.Command()
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	want := []string{
		"exec", "neo4j", "neo4j-admin",
		"import", "--database=semmed",
		"--nodes=/import/c.header,/import/c.csv.gz",
		"--id-type=INTEGER",
		"--skip-duplicate-nodes=false",
		"--skip-bad-relationships=false",
		"--high-io=true",
	}
	if program != "docker" || !reflect.DeepEqual(args, want) {
		t.Fatalf("Command() = %s %v\nwant %v", program, args, want)
	}

	plan.Options.Overwrite = true
	if _, _, err := plan.Command(); err == nil {
		t.Fatalf("Command() expected error for overwrite on dialect 4")
	}
}

func TestPlanCommandRequiresNodes(t *testing.T) {
	if _, _, err := (neo4jadmin.Plan{}).Command(); !errors.Is(err, neo4jadmin.ErrNoNodes) {
		t.Fatalf("Command() error = %v, want ErrNoNodes", err)
	}
}

func TestCheckOverwrite(t *testing.T) {
	opts := neo4jadmin.Options{Overwrite: true}
	if err := neo4jadmin.CheckOverwrite(opts, false); !errors.Is(err, kgload.ErrConfirmationRequired) {
		t.Fatalf("CheckOverwrite() error = %v", err)
	}
	if err := neo4jadmin.CheckOverwrite(opts, true); err != nil {
		t.Fatalf("CheckOverwrite(confirmed) error = %v", err)
	}
}

func TestCheckPlanReportsMissingAndMisaligned(t *testing.T) {
	dir := t.TempDir()
	header := write(t, dir, "c.header", "cui:ID(Concept),name\n")
	data := write(t, dir, "c.csv", "C1,aspirin,extra\n")

	missing := neo4jadmin.Plan{Nodes: []neo4jadmin.Group{{Header: header, Files: []string{filepath.Join(dir, "gone.csv")}}}}
	err := neo4jadmin.CheckPlan(missing, csvio.DefaultOptions())
	if kgload.ExitCode(err) != kgload.ExitMissingInput {
		t.Fatalf("CheckPlan() error = %v, want missing input", err)
	}

	misaligned := neo4jadmin.Plan{Nodes: []neo4jadmin.Group{{Header: header, Files: []string{data}}}}
	if err := neo4jadmin.CheckPlan(misaligned, csvio.DefaultOptions()); !errors.Is(err, kgload.ErrHeaderMismatch) {
		t.Fatalf("CheckPlan() error = %v, want ErrHeaderMismatch", err)
	}
}

type staticRunner struct {
	result ports.CommandResult
	err    error
	got    ports.Command
}

func (r *staticRunner) Run(_ context.Context, cmd ports.Command) (ports.CommandResult, error) {
	r.got = cmd
	return r.result, r.err
}

func TestImporterNonZeroExitIsImportFailure(t *testing.T) {
	runner := &staticRunner{result: ports.CommandResult{ExitCode: 1, Stderr: "Invalid input"}}
	imp := neo4jadmin.NewImporter(runner, 0)

	plan := neo4jadmin.Plan{Nodes: []neo4jadmin.Group{{Header: "h", Files: []string{"d"}}}}
	res, err := imp.Import(context.Background(), plan)

	var failure *kgload.ImportFailure
	if !errors.As(err, &failure) {
		t.Fatalf("Import() error = %v, want ImportFailure", err)
	}
	if failure.ExitCode != 1 || failure.Output != "Invalid input" || res.ExitCode != 1 {
		t.Fatalf("failure = %+v result = %+v", failure, res)
	}
	if kgload.StageOf(err) != kgload.StageImport {
		t.Fatalf("stage = %q", kgload.StageOf(err))
	}
	if runner.got.Program != "neo4j-admin" {
		t.Fatalf("program = %q", runner.got.Program)
	}
}

func TestImporterBadToleranceAgainstFakeAdmin(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "store")
	plan := neo4jadmin.Plan{
		Nodes: []neo4jadmin.Group{{
			Header: write(t, dir, "c.header", "cui:ID(Concept),name\n"),
			Files:  []string{write(t, dir, "c.csv", "C1,aspirin\nC2,headache\n")},
		}},
		Relationships: []neo4jadmin.Group{{
			Label:  "TREATS",
			Header: write(t, dir, "r.header", ":START_ID(Concept),:END_ID(Concept),pmid\n"),
			Files:  []string{write(t, dir, "r.csv", "C1,C2,100\nC1,broken\n")},
		}},
		Options: neo4jadmin.Options{SkipBadRelationships: true},
	}

	admin := &neo4jadmintest.Admin{StoreDir: store}
	imp := neo4jadmin.NewImporter(admin, 0)

	plan.Options.BadTolerance = 0
	if _, err := imp.Import(context.Background(), plan); kgload.ExitCode(err) != kgload.ExitImportFailure {
		t.Fatalf("Import(tolerance=0) error = %v, want import failure", err)
	}

	plan.Options.BadTolerance = 1000000
	if _, err := imp.Import(context.Background(), plan); err != nil {
		t.Fatalf("Import(tolerance=1000000) error = %v", err)
	}
	nodes, rels, bad := admin.Imported()
	if nodes != 2 || rels != 1 || bad != 1 {
		t.Fatalf("imported nodes=%d rels=%d bad=%d", nodes, rels, bad)
	}

	if _, err := neo4jadmin.VerifyStore(context.Background(), neo4jadmin.StoreArtifacts(store, "", "")); err != nil {
		t.Fatalf("VerifyStore() error = %v", err)
	}
}

func TestVerifyStoreZeroByteNodeStore(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, neo4jadmin.DefaultNodeStore, "")
	write(t, dir, neo4jadmin.DefaultRelationshipStore, "rrr")

	checked, err := neo4jadmin.VerifyStore(context.Background(), neo4jadmin.StoreArtifacts(dir, "", ""))
	var failure *kgload.VerificationFailure
	if !errors.As(err, &failure) {
		t.Fatalf("VerifyStore() error = %v, want VerificationFailure", err)
	}
	if failure.Artifact != "node store" || len(checked) != 2 || checked[1].Size != 3 {
		t.Fatalf("failure = %+v checked = %+v", failure, checked)
	}
}

func TestVerifyStoreMissingFile(t *testing.T) {
	_, err := neo4jadmin.VerifyStore(context.Background(), neo4jadmin.StoreArtifacts(t.TempDir(), "", ""))
	if kgload.ExitCode(err) != kgload.ExitVerificationFailure {
		t.Fatalf("VerifyStore() error = %v, want verification failure", err)
	}
}

func TestParseSummary(t *testing.T) {
	out := `Nodes, started 2026-03-01 10:00:00
[*Nodes:0B/s 1.20MiB-----------] 100%

IMPORT DONE in 3s 21ms.
Imported:
  1204 nodes
  5310 relationships
  9120 properties
Peak memory usage: 1.03GiB`
	got := neo4jadmin.ParseSummary(out)
	if got.Nodes != 1204 || got.Relationships != 5310 || got.Properties != 9120 {
		t.Fatalf("ParseSummary() = %+v", got)
	}

	if got := neo4jadmin.ParseSummary("Import error: bad things"); got.Nodes != -1 || got.Relationships != -1 {
		t.Fatalf("ParseSummary(no counts) = %+v", got)
	}
}
