package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"kgload/internal/domain/kgload"
	"kgload/internal/infrastructure/neo4jadmin"
	"kgload/internal/ports"
)

func TestCheckWritesNothing(t *testing.T) {
	h := setupHarness(t, nil)
	path := h.writeDataset(t)

	report, err := h.svc.Check(context.Background(), CheckInput{ManifestPath: path})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !equal(report.Steps, []string{"join/predication", "enrich/concept"}) {
		t.Fatalf("steps = %v", report.Steps)
	}
	if len(report.Inputs) != 7 {
		t.Fatalf("inputs = %+v, want 7", report.Inputs)
	}
	if report.HeadersChecked {
		t.Fatalf("headers checked before the import files exist")
	}
	if len(report.Args) == 0 {
		t.Fatalf("import command not rendered")
	}
	if _, err := os.Stat(filepath.Join(h.dir, "import")); !os.IsNotExist(err) {
		t.Fatalf("Check() created outputs, stat err = %v", err)
	}
	runs, err := h.svc.ListRuns(context.Background(), ports.RunFilter{})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("Check() recorded %d runs", len(runs))
	}
}

func TestCheckAfterTransformsValidatesHeaders(t *testing.T) {
	h := setupHarness(t, nil)
	path := h.writeDataset(t)
	if _, err := h.svc.Load(context.Background(), LoadInput{ManifestPath: path, SkipImport: true}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	report, err := h.svc.Check(context.Background(), CheckInput{ManifestPath: path, SkipTransforms: true})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !report.HeadersChecked {
		t.Fatalf("headers not checked")
	}
	if len(report.Steps) != 0 {
		t.Fatalf("steps = %v, want none", report.Steps)
	}
}

func TestCheckReportsMissingInputs(t *testing.T) {
	h := setupHarness(t, nil)
	path := h.writeDataset(t)
	if err := os.Remove(filepath.Join(h.dir, "CONCEPT.csv")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	_, err := h.svc.Check(context.Background(), CheckInput{ManifestPath: path})
	if got := kgload.ExitCode(err); got != kgload.ExitMissingInput {
		t.Fatalf("ExitCode() = %d, want %d (err = %v)", got, kgload.ExitMissingInput, err)
	}
}

func TestVerifyStoreOutsideRun(t *testing.T) {
	h := setupHarness(t, func(s *Settings) { s.StoreDir = "" })

	if _, err := h.svc.Verify(context.Background(), "", false); kgload.ExitCode(err) != kgload.ExitConfiguration {
		t.Fatalf("Verify() without store dir error = %v", err)
	}

	store := t.TempDir()
	if err := os.WriteFile(filepath.Join(store, neo4jadmin.DefaultNodeStore), []byte("nodes"), 0o644); err != nil {
		t.Fatalf("write node store: %v", err)
	}
	if err := os.WriteFile(filepath.Join(store, neo4jadmin.DefaultRelationshipStore), nil, 0o644); err != nil {
		t.Fatalf("write relationship store: %v", err)
	}
	if _, err := h.svc.Verify(context.Background(), store, false); kgload.ExitCode(err) != kgload.ExitVerificationFailure {
		t.Fatalf("Verify() with empty relationship store error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(store, neo4jadmin.DefaultRelationshipStore), []byte("rels"), 0o644); err != nil {
		t.Fatalf("write relationship store: %v", err)
	}
	res, err := h.svc.Verify(context.Background(), store, true)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if len(res.Store) != 2 || res.Counts == nil || res.Counts.Nodes != 2 {
		t.Fatalf("Verify() = %+v", res)
	}
}

func TestPingClosesProbe(t *testing.T) {
	h := setupHarness(t, nil)

	counts, err := h.svc.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if counts.Nodes != 2 || counts.Relationships != 1 {
		t.Fatalf("counts = %+v", counts)
	}
	if !h.probe.closed {
		t.Fatalf("probe not closed")
	}

	bare := NewService(Deps{}, Settings{})
	if _, err := bare.Ping(context.Background()); kgload.ExitCode(err) != kgload.ExitConfiguration {
		t.Fatalf("Ping() without bolt error = %v", err)
	}
}
