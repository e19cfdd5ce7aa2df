package manifest

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kgload/internal/domain/kgload"
	"kgload/internal/infrastructure/neo4jadmin"
)

const semmedTOML = `
version = 1
dataset = "semmeddb"

[wait]
timeout_seconds = 600

[[join]]
name = "predication-aux"
primary = "PREDICATION.csv"
primary_header = "headers/predication.csv"
primary_key = "0"
auxiliary = "PREDICATION_AUX.csv"
auxiliary_key = "1"
output = "import/predication.csv"

[[enrich]]
reference = "GENERIC_CONCEPT.csv"
target = "CONCEPT.csv.gz"
output = "import/concept.csv"

[[nodes]]
label = "Concept"
header = "headers/concept.csv"
files = ["import/concept.csv"]

[[relationships]]
header = "headers/predication.csv"
files = ["import/predication.csv"]

[schema]
statements = ["CREATE INDEX concept_cui IF NOT EXISTS FOR (c:Concept) ON (c.cui)"]
`

func TestLoadTOMLResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "semmed.toml")
	if err := os.WriteFile(path, []byte(semmedTOML), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.Dataset != "semmeddb" || m.Wait == nil || m.Wait.TimeoutSeconds != 600 {
		t.Fatalf("Load() = %+v", m)
	}
	if len(m.Joins) != 1 || m.Joins[0].Primary != filepath.Join(dir, "PREDICATION.csv") {
		t.Fatalf("join = %+v", m.Joins)
	}
	if m.Enrichments[0].Name != "enrich-1" {
		t.Fatalf("enrich name = %q", m.Enrichments[0].Name)
	}
	if got := m.Nodes[0].Files[0]; got != filepath.Join(dir, "import", "concept.csv") {
		t.Fatalf("node file = %q", got)
	}
	if !m.HasImport() {
		t.Fatalf("HasImport() = false")
	}
	plan := m.Plan(neo4jadmin.Options{})
	if len(plan.Nodes) != 1 || len(plan.Relationships) != 1 {
		t.Fatalf("Plan() = %+v", plan)
	}
}

func TestParseYAML(t *testing.T) {
	raw := `
dataset: primekg
kgx:
  - nodes: nodes.tsv
    edges: edges.tsv
    nodes_out: out/nodes.csv
    nodes_header: out/nodes_header.csv
    edges_out: out/edges.csv
    edges_header: out/edges_header.csv
dedupe:
  - input: out/edges.csv
    output: out/edges_dedup.csv
    key_columns: 3
nodes:
  - header: out/nodes_header.csv
    files: [out/nodes.csv]
`
	m, err := Parse([]byte(raw), ".yml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.Version != CurrentVersion || m.KGX[0].Name != "kgx-1" || m.Dedupes[0].KeyColumns != 3 {
		t.Fatalf("Parse() = %+v", m)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ext  string
		want string
	}{
		{name: "no dataset", raw: `version = 1`, ext: ".toml", want: "dataset is required"},
		{name: "bad version", raw: "version = 3\ndataset = \"x\"", ext: ".toml", want: "version 3"},
		{name: "unknown field", raw: "dataset = \"x\"\nbogus = 1", ext: ".toml", want: "decode toml"},
		{name: "join mode", raw: "dataset: x\njoin:\n  - primary: a\n    primary_key: \"0\"\n    auxiliary: b\n    auxiliary_key: \"0\"\n    output: c\n    mode: outer\n", ext: ".yaml", want: "mode must be inner or left"},
		{name: "missing key", raw: "dataset: x\njoin:\n  - primary: a\n    auxiliary: b\n    auxiliary_key: \"0\"\n    output: c\n", ext: ".yaml", want: "primary_key is required"},
		{name: "duplicate names", raw: "dataset: x\ndedupe:\n  - {name: d, input: a, output: b}\n  - {name: d, input: c, output: e}\n", ext: ".yaml", want: "duplicate step name"},
		{name: "empty group", raw: "dataset: x\nnodes:\n  - header: h.csv\n", ext: ".yaml", want: "has no files"},
		{name: "rels without nodes", raw: "dataset: x\nrelationships:\n  - files: [r.csv]\n", ext: ".yaml", want: "at least one node group"},
		{name: "extension", raw: "{}", ext: ".ini", want: "unsupported manifest extension"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw), tt.ext)
			if err == nil {
				t.Fatalf("Parse() expected error")
			}
			if !errors.Is(err, kgload.ErrInvalidConfig) {
				t.Fatalf("Parse() error = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Parse() error = %v, want it to mention %q", err, tt.want)
			}
			if kgload.ExitCode(err) != kgload.ExitConfiguration {
				t.Fatalf("ExitCode() = %d", kgload.ExitCode(err))
			}
		})
	}
}

func TestJSONSchema(t *testing.T) {
	raw, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	props, ok := doc["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties: %s", raw)
	}
	for _, key := range []string{"dataset", "join", "enrich", "nodes", "relationships", "schema"} {
		if _, ok := props[key]; !ok {
			t.Fatalf("schema missing property %q", key)
		}
	}
}

func TestShippedManifestsLoad(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "configs", "manifests", "*"))
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	if len(paths) == 0 {
		t.Fatalf("no shipped manifests found")
	}
	for _, p := range paths {
		m, err := Load(p)
		if err != nil {
			t.Fatalf("Load(%s) error = %v", p, err)
		}
		if !m.HasImport() {
			t.Fatalf("%s defines no import", p)
		}
		if !filepath.IsAbs(m.Nodes[0].Files[0]) && !strings.HasPrefix(m.Nodes[0].Files[0], m.BaseDir) {
			t.Fatalf("%s: node file %q not resolved against %q", p, m.Nodes[0].Files[0], m.BaseDir)
		}
	}
}

func TestParseDataPreparationSteps(t *testing.T) {
	raw := `
dataset: prep
kgsplit:
  - input: kg.csv
    nodes_out: nodes.csv
    edges_out: edges.csv
kgx_merge:
  - nodes: [a_nodes.tsv, b_nodes.tsv]
    edges: [a_edges.tsv]
    nodes_out: merged_nodes.tsv
    edges_out: merged_edges.tsv
`
	m, err := Parse([]byte(raw), ".yaml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.KGSplits[0].Name != "kgsplit-1" || m.KGXMerges[0].Name != "kgx-merge-1" {
		t.Fatalf("names = %q, %q", m.KGSplits[0].Name, m.KGXMerges[0].Name)
	}
	if len(m.KGXMerges[0].Nodes) != 2 {
		t.Fatalf("merge nodes = %v", m.KGXMerges[0].Nodes)
	}

	bad := []struct{ raw, want string }{
		{"dataset: x\nkgsplit:\n  - input: kg.csv\n    nodes_out: n.csv\n", "edges_out is required"},
		{"dataset: x\nkgx_merge:\n  - nodes_out: n.tsv\n", "at least one file"},
		{"dataset: x\nkgx_merge:\n  - nodes: [a.tsv]\n    edges: [b.tsv]\n    nodes_out: n.tsv\n", "edges_out is required"},
	}
	for _, tt := range bad {
		_, err := Parse([]byte(tt.raw), ".yaml")
		if !errors.Is(err, kgload.ErrInvalidConfig) || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("Parse(%q) error = %v, want %q", tt.raw, err, tt.want)
		}
	}
}
