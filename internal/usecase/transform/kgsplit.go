package transform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/csvio"
)

// PrimeKGIDSpace is the id space shared by split node and edge headers.
const PrimeKGIDSpace = "PrimeKG"

// KGSplitInput splits a PrimeKG kg.csv, one edge per row with both endpoint
// nodes inline, into headerless node and edge import files.
type KGSplitInput struct {
	Input       string
	NodesOut    string
	NodesHeader string
	EdgesOut    string
	EdgesHeader string
	// StatsOut receives relation,count,display_relation rows. Optional.
	StatsOut  string
	Tolerance int64
	CSV       csvio.Options
}

type RelationCount struct {
	Relation        string
	DisplayRelation string
	Count           int64
}

type KGSplitStats struct {
	Rows int64
	// Nodes after dropping repeated indexes per side and then repeated
	// (id, type, name) across sides.
	Nodes          int64
	DuplicateNodes int64
	Edges          int64
	BadRows        int64
	NodeTypes      map[string]int64
	Relations      []RelationCount
}

var primeKGColumns = []string{
	"relation", "display_relation",
	"x_index", "x_id", "x_type", "x_name",
	"y_index", "y_id", "y_type", "y_name",
}

type primeNode struct {
	index, id, kind, name string
}

// nodeSide keeps the first node seen for each index on one side of the edge.
type nodeSide struct {
	seen  map[string]struct{}
	nodes []primeNode
}

func (s *nodeSide) add(n primeNode) {
	if _, ok := s.seen[n.index]; ok {
		return
	}
	s.seen[n.index] = struct{}{}
	s.nodes = append(s.nodes, n)
}

// SplitPrimeKG writes every row as an edge between x_index and y_index and
// collects the endpoint nodes. Nodes are unique per index on each side, then
// unique on (id, type, name) with x-side nodes first.
func SplitPrimeKG(ctx context.Context, in KGSplitInput) (KGSplitStats, error) {
	stats := KGSplitStats{NodeTypes: map[string]int64{}}
	ctx = logging.WithAttrs(ctx, slog.String("component", "transform"), slog.String("stage", kgload.StageKGSplit))

	if err := RequireFiles(InputFile{Role: "primekg", Path: in.Input}); err != nil {
		return stats, err
	}
	r, err := csvio.Open(in.Input, "primekg", in.CSV)
	if err != nil {
		return stats, err
	}
	defer r.Close()

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return stats, fmt.Errorf("primekg file %s is empty", in.Input)
		}
		return stats, errs.Wrapf(err, "read header %s", in.Input)
	}
	col := map[string]int{}
	for _, name := range primeKGColumns {
		i := indexOf(header, name)
		if i < 0 {
			return stats, errs.Wrapf(kgload.ErrColumnNotFound, "%s: %s", in.Input, name)
		}
		col[name] = i
	}

	edges, err := csvio.Create(in.EdgesOut, in.CSV.Delimiter)
	if err != nil {
		return stats, err
	}
	defer edges.Abort()

	xs := &nodeSide{seen: map[string]struct{}{}}
	ys := &nodeSide{seen: map[string]struct{}{}}
	relCounts := map[string]int64{}
	var relOrder []string
	displays := map[string][]string{}

	guard := csvio.NewGuard(in.Input, len(header), in.Tolerance)
	next := guardedSource(ctx, r, guard)
	for {
		if stats.Rows%batchSize == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}
		row, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		stats.BadRows = guard.Bad
		if err != nil {
			return stats, err
		}
		stats.Rows++

		rel, display := row[col["relation"]], row[col["display_relation"]]
		x := primeNode{row[col["x_index"]], row[col["x_id"]], row[col["x_type"]], row[col["x_name"]]}
		y := primeNode{row[col["y_index"]], row[col["y_id"]], row[col["y_type"]], row[col["y_name"]]}
		xs.add(x)
		ys.add(y)

		if _, ok := relCounts[rel]; !ok {
			relOrder = append(relOrder, rel)
		}
		relCounts[rel]++
		if !slices.Contains(displays[rel], display) {
			displays[rel] = append(displays[rel], display)
		}

		if err := edges.Write([]string{x.index, y.index, CleanType(rel), rel, display}); err != nil {
			return stats, errs.Wrapf(err, "write %s", in.EdgesOut)
		}
		stats.Edges++
	}
	stats.BadRows = guard.Bad

	nodes, err := csvio.Create(in.NodesOut, in.CSV.Delimiter)
	if err != nil {
		return stats, err
	}
	defer nodes.Abort()
	unique := map[primeNode]struct{}{}
	for _, n := range append(xs.nodes, ys.nodes...) {
		key := primeNode{id: n.id, kind: n.kind, name: n.name}
		if _, dup := unique[key]; dup {
			stats.DuplicateNodes++
			continue
		}
		unique[key] = struct{}{}
		if err := nodes.Write([]string{n.index, n.id, n.kind, n.name, PrimeKGLabel(n.kind)}); err != nil {
			return stats, errs.Wrapf(err, "write %s", in.NodesOut)
		}
		stats.Nodes++
		stats.NodeTypes[n.kind]++
	}

	stats.Relations = relationCounts(relOrder, relCounts, displays)

	if in.NodesHeader != "" {
		idCol := "index:ID(" + PrimeKGIDSpace + ")"
		if err := csvio.WriteRecord(in.NodesHeader, in.CSV.Delimiter, []string{idCol, "node_id", "node_type", "node_name", ":LABEL"}); err != nil {
			return stats, err
		}
	}
	if in.EdgesHeader != "" {
		start, end := ":START_ID("+PrimeKGIDSpace+")", ":END_ID("+PrimeKGIDSpace+")"
		if err := csvio.WriteRecord(in.EdgesHeader, in.CSV.Delimiter, []string{start, end, ":TYPE", "relation", "display_relation"}); err != nil {
			return stats, err
		}
	}
	if in.StatsOut != "" {
		if err := writeRelationStats(in.StatsOut, stats.Relations); err != nil {
			return stats, err
		}
	}
	if err := edges.Commit(); err != nil {
		return stats, err
	}
	if err := nodes.Commit(); err != nil {
		return stats, err
	}

	logging.Info(ctx, "primekg split finished",
		slog.Int64("rows", stats.Rows),
		slog.Int64("nodes", stats.Nodes),
		slog.Int64("duplicate_nodes", stats.DuplicateNodes),
		slog.Int64("edges", stats.Edges),
		slog.Int("relation_types", len(relCounts)),
		slog.Int64("bad_rows", stats.BadRows))
	return stats, nil
}

// PrimeKGLabel turns a node type such as "gene/protein" into a label.
func PrimeKGLabel(kind string) string {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return UnknownCategory
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return r
		}
		return '_'
	}, kind)
}

// relationCounts orders relations by count, then name. A relation shown
// under several display names gets one entry per display name.
func relationCounts(order []string, counts map[string]int64, displays map[string][]string) []RelationCount {
	rels := append([]string(nil), order...)
	sort.SliceStable(rels, func(i, j int) bool {
		if counts[rels[i]] != counts[rels[j]] {
			return counts[rels[i]] > counts[rels[j]]
		}
		return rels[i] < rels[j]
	})
	var out []RelationCount
	for _, rel := range rels {
		for _, d := range displays[rel] {
			out = append(out, RelationCount{Relation: rel, DisplayRelation: d, Count: counts[rel]})
		}
	}
	return out
}

func writeRelationStats(path string, rels []RelationCount) error {
	w, err := csvio.Create(path, ',')
	if err != nil {
		return err
	}
	defer w.Abort()
	if err := w.Write([]string{"relation", "count", "display_relation"}); err != nil {
		return errs.Wrapf(err, "write %s", path)
	}
	for _, r := range rels {
		if err := w.Write([]string{r.Relation, strconv.FormatInt(r.Count, 10), r.DisplayRelation}); err != nil {
			return errs.Wrapf(err, "write %s", path)
		}
	}
	return w.Commit()
}
