// Package manifest describes one dataset load: the transforms that prepare
// its CSVs, the node and relationship groups handed to neo4j-admin and the
// schema statements applied once the database is back up.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/neo4jadmin"
)

const CurrentVersion = 1

type Manifest struct {
	Version int    `toml:"version" yaml:"version" json:"version" jsonschema:"enum=1"`
	Dataset string `toml:"dataset" yaml:"dataset" json:"dataset" jsonschema:"required,description=Dataset name recorded in the run ledger"`
	// BaseDir anchors relative paths. Empty means the manifest's directory.
	BaseDir string `toml:"base_dir" yaml:"base_dir" json:"base_dir,omitempty"`

	Wait          *WaitSpec          `toml:"wait" yaml:"wait" json:"wait,omitempty"`
	Extracts      []ExtractStep      `toml:"extract" yaml:"extract" json:"extract,omitempty"`
	KGSplits      []KGSplitStep      `toml:"kgsplit" yaml:"kgsplit" json:"kgsplit,omitempty"`
	KGXMerges     []KGXMergeStep     `toml:"kgx_merge" yaml:"kgx_merge" json:"kgx_merge,omitempty"`
	KGX           []KGXStep          `toml:"kgx" yaml:"kgx" json:"kgx,omitempty"`
	Joins         []JoinStep         `toml:"join" yaml:"join" json:"join,omitempty"`
	Enrichments   []EnrichStep       `toml:"enrich" yaml:"enrich" json:"enrich,omitempty"`
	Dedupes       []DedupeStep       `toml:"dedupe" yaml:"dedupe" json:"dedupe,omitempty"`
	Nodes         []neo4jadmin.Group `toml:"nodes" yaml:"nodes" json:"nodes,omitempty"`
	Relationships []neo4jadmin.Group `toml:"relationships" yaml:"relationships" json:"relationships,omitempty"`
	Schema        SchemaSpec         `toml:"schema" yaml:"schema" json:"schema,omitempty"`
}

// WaitSpec makes the pipeline wait for its inputs to appear before preflight.
type WaitSpec struct {
	TimeoutSeconds int `toml:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	SettleSeconds  int `toml:"settle_seconds" yaml:"settle_seconds" json:"settle_seconds,omitempty"`
}

type ExtractStep struct {
	Name   string `toml:"name" yaml:"name" json:"name,omitempty"`
	Dump   string `toml:"dump" yaml:"dump" json:"dump" jsonschema:"required"`
	Table  string `toml:"table" yaml:"table" json:"table" jsonschema:"required"`
	Output string `toml:"output" yaml:"output" json:"output" jsonschema:"required"`
}

// KGSplitStep splits a PrimeKG kg.csv into node and edge import files.
type KGSplitStep struct {
	Name        string `toml:"name" yaml:"name" json:"name,omitempty"`
	Input       string `toml:"input" yaml:"input" json:"input" jsonschema:"required"`
	NodesOut    string `toml:"nodes_out" yaml:"nodes_out" json:"nodes_out" jsonschema:"required"`
	NodesHeader string `toml:"nodes_header" yaml:"nodes_header" json:"nodes_header,omitempty"`
	EdgesOut    string `toml:"edges_out" yaml:"edges_out" json:"edges_out" jsonschema:"required"`
	EdgesHeader string `toml:"edges_header" yaml:"edges_header" json:"edges_header,omitempty"`
	StatsOut    string `toml:"stats_out" yaml:"stats_out" json:"stats_out,omitempty"`
	Tolerance   *int64 `toml:"tolerance" yaml:"tolerance" json:"tolerance,omitempty"`
}

// KGXMergeStep combines per-source KGX TSVs into one node and one edge file.
type KGXMergeStep struct {
	Name      string   `toml:"name" yaml:"name" json:"name,omitempty"`
	Nodes     []string `toml:"nodes" yaml:"nodes" json:"nodes" jsonschema:"required"`
	Edges     []string `toml:"edges" yaml:"edges" json:"edges,omitempty"`
	NodesOut  string   `toml:"nodes_out" yaml:"nodes_out" json:"nodes_out" jsonschema:"required"`
	EdgesOut  string   `toml:"edges_out" yaml:"edges_out" json:"edges_out,omitempty"`
	Tolerance *int64   `toml:"tolerance" yaml:"tolerance" json:"tolerance,omitempty"`
}

type KGXStep struct {
	Name        string `toml:"name" yaml:"name" json:"name,omitempty"`
	Nodes       string `toml:"nodes" yaml:"nodes" json:"nodes" jsonschema:"required"`
	Edges       string `toml:"edges" yaml:"edges" json:"edges" jsonschema:"required"`
	NodesOut    string `toml:"nodes_out" yaml:"nodes_out" json:"nodes_out" jsonschema:"required"`
	NodesHeader string `toml:"nodes_header" yaml:"nodes_header" json:"nodes_header" jsonschema:"required"`
	EdgesOut    string `toml:"edges_out" yaml:"edges_out" json:"edges_out" jsonschema:"required"`
	EdgesHeader string `toml:"edges_header" yaml:"edges_header" json:"edges_header" jsonschema:"required"`
	Tolerance   *int64 `toml:"tolerance" yaml:"tolerance" json:"tolerance,omitempty"`
}

// JoinStep key columns are a 0-based index ("3") or a header column name.
type JoinStep struct {
	Name            string `toml:"name" yaml:"name" json:"name,omitempty"`
	Primary         string `toml:"primary" yaml:"primary" json:"primary" jsonschema:"required"`
	PrimaryHeader   string `toml:"primary_header" yaml:"primary_header" json:"primary_header,omitempty"`
	PrimaryKey      string `toml:"primary_key" yaml:"primary_key" json:"primary_key" jsonschema:"required"`
	Auxiliary       string `toml:"auxiliary" yaml:"auxiliary" json:"auxiliary" jsonschema:"required"`
	AuxiliaryHeader string `toml:"auxiliary_header" yaml:"auxiliary_header" json:"auxiliary_header,omitempty"`
	AuxiliaryKey    string `toml:"auxiliary_key" yaml:"auxiliary_key" json:"auxiliary_key" jsonschema:"required"`
	Output          string `toml:"output" yaml:"output" json:"output" jsonschema:"required"`
	OutputHeader    string `toml:"output_header" yaml:"output_header" json:"output_header,omitempty"`
	Mode            string `toml:"mode" yaml:"mode" json:"mode,omitempty" jsonschema:"enum=inner,enum=left"`
	Tolerance       *int64 `toml:"tolerance" yaml:"tolerance" json:"tolerance,omitempty"`
}

type EnrichStep struct {
	Name            string `toml:"name" yaml:"name" json:"name,omitempty"`
	Reference       string `toml:"reference" yaml:"reference" json:"reference" jsonschema:"required"`
	ReferenceHeader string `toml:"reference_header" yaml:"reference_header" json:"reference_header,omitempty"`
	ReferenceKey    string `toml:"reference_key" yaml:"reference_key" json:"reference_key,omitempty"`
	ReferenceScore  string `toml:"reference_score" yaml:"reference_score" json:"reference_score,omitempty"`
	Target          string `toml:"target" yaml:"target" json:"target" jsonschema:"required"`
	TargetHeader    string `toml:"target_header" yaml:"target_header" json:"target_header,omitempty"`
	TargetKey       string `toml:"target_key" yaml:"target_key" json:"target_key,omitempty"`
	Output          string `toml:"output" yaml:"output" json:"output" jsonschema:"required"`
	OutputHeader    string `toml:"output_header" yaml:"output_header" json:"output_header,omitempty"`
	FlagColumn      string `toml:"flag_column" yaml:"flag_column" json:"flag_column,omitempty"`
	ScoreColumn     string `toml:"score_column" yaml:"score_column" json:"score_column,omitempty"`
	Tolerance       *int64 `toml:"tolerance" yaml:"tolerance" json:"tolerance,omitempty"`
}

type DedupeStep struct {
	Name       string `toml:"name" yaml:"name" json:"name,omitempty"`
	Input      string `toml:"input" yaml:"input" json:"input" jsonschema:"required"`
	Output     string `toml:"output" yaml:"output" json:"output" jsonschema:"required"`
	KeyColumns int    `toml:"key_columns" yaml:"key_columns" json:"key_columns,omitempty"`
	HasHeader  bool   `toml:"has_header" yaml:"has_header" json:"has_header,omitempty"`
}

// SchemaSpec holds Cypher statements run after the database is healthy.
// File is a script split on line-ending semicolons.
type SchemaSpec struct {
	Statements []string `toml:"statements" yaml:"statements" json:"statements,omitempty"`
	File       string   `toml:"file" yaml:"file" json:"file,omitempty"`
}

// Load reads a manifest by extension (.toml, .yaml, .yml or .json),
// validates it and resolves every path against BaseDir.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrapf(err, "read manifest %s", path)
	}
	m, err := Parse(raw, filepath.Ext(path))
	if err != nil {
		return nil, errs.Wrapf(err, "manifest %s", path)
	}
	if m.BaseDir == "" {
		m.BaseDir = filepath.Dir(path)
	} else if !filepath.IsAbs(m.BaseDir) {
		m.BaseDir = filepath.Join(filepath.Dir(path), m.BaseDir)
	}
	m.resolve()
	return m, nil
}

// Parse decodes and validates raw manifest bytes. Paths are left as written.
func Parse(raw []byte, ext string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(ext) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return nil, invalid("decode toml: %v", err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			return nil, invalid("decode yaml: %v", err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return nil, invalid("decode json: %v", err)
		}
	default:
		return nil, invalid("unsupported manifest extension %q", ext)
	}
	if m.Version == 0 {
		m.Version = CurrentVersion
	}
	m.defaultNames()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{kgload.ErrInvalidConfig}, args...)...)
}

func (m *Manifest) defaultNames() {
	for i := range m.Extracts {
		if m.Extracts[i].Name == "" {
			m.Extracts[i].Name = m.Extracts[i].Table
		}
	}
	for i := range m.KGSplits {
		if m.KGSplits[i].Name == "" {
			m.KGSplits[i].Name = fmt.Sprintf("kgsplit-%d", i+1)
		}
	}
	for i := range m.KGXMerges {
		if m.KGXMerges[i].Name == "" {
			m.KGXMerges[i].Name = fmt.Sprintf("kgx-merge-%d", i+1)
		}
	}
	for i := range m.KGX {
		if m.KGX[i].Name == "" {
			m.KGX[i].Name = fmt.Sprintf("kgx-%d", i+1)
		}
	}
	for i := range m.Joins {
		if m.Joins[i].Name == "" {
			m.Joins[i].Name = fmt.Sprintf("join-%d", i+1)
		}
	}
	for i := range m.Enrichments {
		if m.Enrichments[i].Name == "" {
			m.Enrichments[i].Name = fmt.Sprintf("enrich-%d", i+1)
		}
	}
	for i := range m.Dedupes {
		if m.Dedupes[i].Name == "" {
			m.Dedupes[i].Name = fmt.Sprintf("dedupe-%d", i+1)
		}
	}
}

// Validate reports the first structural problem.
func (m *Manifest) Validate() error {
	if m.Version != CurrentVersion {
		return invalid("unsupported manifest version %d", m.Version)
	}
	if strings.TrimSpace(m.Dataset) == "" {
		return invalid("dataset is required")
	}

	names := map[string]bool{}
	unique := func(name string) error {
		if names[name] {
			return invalid("duplicate step name %q", name)
		}
		names[name] = true
		return nil
	}
	require := func(step, field, v string) error {
		if strings.TrimSpace(v) == "" {
			return invalid("%s: %s is required", step, field)
		}
		return nil
	}

	for _, s := range m.Extracts {
		if err := firstError(unique(s.Name),
			require(s.Name, "dump", s.Dump), require(s.Name, "table", s.Table), require(s.Name, "output", s.Output)); err != nil {
			return err
		}
	}
	for _, s := range m.KGSplits {
		if err := firstError(unique(s.Name),
			require(s.Name, "input", s.Input),
			require(s.Name, "nodes_out", s.NodesOut), require(s.Name, "edges_out", s.EdgesOut)); err != nil {
			return err
		}
	}
	for _, s := range m.KGXMerges {
		if err := firstError(unique(s.Name), require(s.Name, "nodes_out", s.NodesOut)); err != nil {
			return err
		}
		if len(s.Nodes) == 0 {
			return invalid("%s: nodes needs at least one file", s.Name)
		}
		if len(s.Edges) > 0 && strings.TrimSpace(s.EdgesOut) == "" {
			return invalid("%s: edges_out is required when edges are listed", s.Name)
		}
	}
	for _, s := range m.KGX {
		if err := firstError(unique(s.Name),
			require(s.Name, "nodes", s.Nodes), require(s.Name, "edges", s.Edges),
			require(s.Name, "nodes_out", s.NodesOut), require(s.Name, "nodes_header", s.NodesHeader),
			require(s.Name, "edges_out", s.EdgesOut), require(s.Name, "edges_header", s.EdgesHeader)); err != nil {
			return err
		}
	}
	for _, s := range m.Joins {
		if err := firstError(unique(s.Name),
			require(s.Name, "primary", s.Primary), require(s.Name, "primary_key", s.PrimaryKey),
			require(s.Name, "auxiliary", s.Auxiliary), require(s.Name, "auxiliary_key", s.AuxiliaryKey),
			require(s.Name, "output", s.Output)); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(s.Mode)) {
		case "", "inner", "left":
		default:
			return invalid("%s: mode must be inner or left, got %q", s.Name, s.Mode)
		}
	}
	for _, s := range m.Enrichments {
		if err := firstError(unique(s.Name),
			require(s.Name, "reference", s.Reference), require(s.Name, "target", s.Target),
			require(s.Name, "output", s.Output)); err != nil {
			return err
		}
	}
	for _, s := range m.Dedupes {
		if err := firstError(unique(s.Name),
			require(s.Name, "input", s.Input), require(s.Name, "output", s.Output)); err != nil {
			return err
		}
		if s.KeyColumns < 0 {
			return invalid("%s: key_columns must not be negative", s.Name)
		}
	}

	groups := append(append([]neo4jadmin.Group{}, m.Nodes...), m.Relationships...)
	for i, g := range groups {
		if len(g.Files) == 0 {
			return invalid("import group %d (%s) has no files", i+1, g.Label)
		}
	}
	if len(m.Relationships) > 0 && len(m.Nodes) == 0 {
		return invalid("relationships need at least one node group")
	}
	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// HasImport reports whether the manifest defines an import.
func (m *Manifest) HasImport() bool {
	return len(m.Nodes) > 0
}

// Plan builds the neo4j-admin plan for the manifest's groups.
func (m *Manifest) Plan(opts neo4jadmin.Options) neo4jadmin.Plan {
	return neo4jadmin.Plan{Nodes: m.Nodes, Relationships: m.Relationships, Options: opts}
}

func (m *Manifest) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.BaseDir, p)
}

func (m *Manifest) resolve() {
	for i := range m.Extracts {
		s := &m.Extracts[i]
		s.Dump, s.Output = m.path(s.Dump), m.path(s.Output)
	}
	for i := range m.KGSplits {
		s := &m.KGSplits[i]
		s.Input, s.StatsOut = m.path(s.Input), m.path(s.StatsOut)
		s.NodesOut, s.NodesHeader = m.path(s.NodesOut), m.path(s.NodesHeader)
		s.EdgesOut, s.EdgesHeader = m.path(s.EdgesOut), m.path(s.EdgesHeader)
	}
	for i := range m.KGXMerges {
		s := &m.KGXMerges[i]
		for j := range s.Nodes {
			s.Nodes[j] = m.path(s.Nodes[j])
		}
		for j := range s.Edges {
			s.Edges[j] = m.path(s.Edges[j])
		}
		s.NodesOut, s.EdgesOut = m.path(s.NodesOut), m.path(s.EdgesOut)
	}
	for i := range m.KGX {
		s := &m.KGX[i]
		s.Nodes, s.Edges = m.path(s.Nodes), m.path(s.Edges)
		s.NodesOut, s.NodesHeader = m.path(s.NodesOut), m.path(s.NodesHeader)
		s.EdgesOut, s.EdgesHeader = m.path(s.EdgesOut), m.path(s.EdgesHeader)
	}
	for i := range m.Joins {
		s := &m.Joins[i]
		s.Primary, s.PrimaryHeader = m.path(s.Primary), m.path(s.PrimaryHeader)
		s.Auxiliary, s.AuxiliaryHeader = m.path(s.Auxiliary), m.path(s.AuxiliaryHeader)
		s.Output, s.OutputHeader = m.path(s.Output), m.path(s.OutputHeader)
	}
	for i := range m.Enrichments {
		s := &m.Enrichments[i]
		s.Reference, s.ReferenceHeader = m.path(s.Reference), m.path(s.ReferenceHeader)
		s.Target, s.TargetHeader = m.path(s.Target), m.path(s.TargetHeader)
		s.Output, s.OutputHeader = m.path(s.Output), m.path(s.OutputHeader)
	}
	for i := range m.Dedupes {
		s := &m.Dedupes[i]
		s.Input, s.Output = m.path(s.Input), m.path(s.Output)
	}
	resolveGroups := func(groups []neo4jadmin.Group) {
		for i := range groups {
			groups[i].Header = m.path(groups[i].Header)
			for j := range groups[i].Files {
				groups[i].Files[j] = m.path(groups[i].Files[j])
			}
		}
	}
	resolveGroups(m.Nodes)
	resolveGroups(m.Relationships)
	m.Schema.File = m.path(m.Schema.File)
}

// JSONSchema returns the manifest's JSON Schema, indented.
func JSONSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
	}
	s := r.Reflect(&Manifest{})
	s.Title = "kgload manifest"
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, errs.Wrap(err, "encode manifest schema")
	}
	return out, nil
}
