package transform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/csvio"
)

const (
	UnknownCategory  = "UnknownCategory"
	ExternalCategory = "ExternalCategory"
	DefaultRelType   = "RELATED_TO"
)

// KGXInput converts merged KGX node and edge TSVs into import CSVs. Each output
// is headerless with its header written to a sibling file.
type KGXInput struct {
	Nodes       string
	Edges       string
	NodesOut    string
	NodesHeader string
	EdgesOut    string
	EdgesHeader string
	Tolerance   int64
	CSV         csvio.Options
}

type KGXStats struct {
	Nodes    int64
	Edges    int64
	BadNodes int64
	BadEdges int64
}

// CleanLabel maps a KGX category onto a Neo4j label.
func CleanLabel(category string) string {
	c := strings.TrimSpace(category)
	switch {
	case c == "":
		return UnknownCategory
	case strings.HasPrefix(c, "http"):
		return ExternalCategory
	}
	if _, rest, ok := strings.Cut(c, ":"); ok {
		return rest
	}
	return c
}

// CleanType maps a KGX predicate onto a relationship type.
func CleanType(predicate string) string {
	p := strings.TrimSpace(predicate)
	if p == "" {
		return DefaultRelType
	}
	if strings.HasPrefix(p, "http") || strings.ContainsAny(p, `/\`) {
		p = strings.TrimRight(strings.ReplaceAll(p, `\`, "/"), "/")
		var last string
		for _, part := range strings.Split(p, "/") {
			if part != "" {
				last = part
			}
		}
		if last == "" {
			return DefaultRelType
		}
		return strings.ToUpper(strings.ReplaceAll(last, ":", "_"))
	}
	if _, rest, ok := strings.Cut(p, ":"); ok {
		p = rest
	}
	return strings.ToUpper(strings.ReplaceAll(p, ":", "_"))
}

func ConvertKGX(ctx context.Context, in KGXInput) (KGXStats, error) {
	var stats KGXStats
	ctx = logging.WithAttrs(ctx, slog.String("component", "transform"), slog.String("stage", kgload.StageKGX))

	if err := RequireFiles(InputFile{Role: "kgx nodes", Path: in.Nodes}, InputFile{Role: "kgx edges", Path: in.Edges}); err != nil {
		return stats, err
	}

	opts := in.CSV
	opts.Delimiter = '\t'

	var err error
	if in.Nodes != "" {
		stats.Nodes, stats.BadNodes, err = convertTable(ctx, in.Nodes, in.NodesOut, in.NodesHeader, opts, in.Tolerance, nodeLayout)
		if err != nil {
			return stats, err
		}
	}
	if in.Edges != "" {
		stats.Edges, stats.BadEdges, err = convertTable(ctx, in.Edges, in.EdgesOut, in.EdgesHeader, opts, in.Tolerance, edgeLayout)
		if err != nil {
			return stats, err
		}
	}

	logging.Info(ctx, "kgx conversion finished",
		slog.Int64("nodes", stats.Nodes),
		slog.Int64("edges", stats.Edges),
		slog.Int64("bad_rows", stats.BadNodes+stats.BadEdges))
	return stats, nil
}

// layout turns a KGX header into the output header and a row mapper.
type layout func(header []string) ([]string, func(row []string) []string, error)

func nodeLayout(header []string) ([]string, func([]string) []string, error) {
	id, cat := indexOf(header, "id"), indexOf(header, "category")
	if id < 0 {
		return nil, nil, fmt.Errorf("kgx nodes header has no id column")
	}

	var keep []int
	out := []string{"id:ID"}
	for i, name := range header {
		if name == "id" || name == "id:ID" || name == ":LABEL" {
			continue
		}
		keep = append(keep, i)
		out = append(out, name)
	}
	out = append(out, ":LABEL")

	mapRow := func(row []string) []string {
		rec := make([]string, 0, len(keep)+2)
		rec = append(rec, row[id])
		for _, i := range keep {
			rec = append(rec, row[i])
		}
		var category string
		if cat >= 0 {
			category = row[cat]
		}
		return append(rec, CleanLabel(category))
	}
	return out, mapRow, nil
}

func edgeLayout(header []string) ([]string, func([]string) []string, error) {
	subj, pred, obj := indexOf(header, "subject"), indexOf(header, "predicate"), indexOf(header, "object")
	if subj < 0 || obj < 0 {
		return nil, nil, fmt.Errorf("kgx edges header needs subject and object columns")
	}

	var keep []int
	out := []string{":START_ID", ":END_ID", ":TYPE"}
	for i, name := range header {
		if name == ":START_ID" || name == ":END_ID" || name == ":TYPE" {
			continue
		}
		keep = append(keep, i)
		out = append(out, name)
	}

	mapRow := func(row []string) []string {
		var predicate string
		if pred >= 0 {
			predicate = row[pred]
		}
		rec := make([]string, 0, len(keep)+3)
		rec = append(rec, row[subj], row[obj], CleanType(predicate))
		for _, i := range keep {
			rec = append(rec, row[i])
		}
		return rec
	}
	return out, mapRow, nil
}

func convertTable(ctx context.Context, input, output, headerOut string, opts csvio.Options, tolerance int64, lay layout) (rows, bad int64, err error) {
	r, err := csvio.Open(input, "kgx", opts)
	if err != nil {
		return 0, 0, err
	}
	defer r.Close()

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, 0, fmt.Errorf("kgx file %s is empty", input)
		}
		return 0, 0, errs.Wrapf(err, "read header %s", input)
	}
	outHeader, mapRow, err := lay(header)
	if err != nil {
		return 0, 0, errs.Wrap(err, input)
	}

	w, err := csvio.Create(output, ',')
	if err != nil {
		return 0, 0, err
	}
	defer w.Abort()

	guard := csvio.NewGuard(input, len(header), tolerance)
	src := guardedSource(ctx, r, guard)
	for {
		row, err := src()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, guard.Bad, err
		}
		if err := w.Write(mapRow(row)); err != nil {
			return rows, guard.Bad, errs.Wrapf(err, "write %s", output)
		}
		rows++
	}

	if headerOut != "" {
		if err := csvio.WriteRecord(headerOut, ',', outHeader); err != nil {
			return rows, guard.Bad, err
		}
	}
	return rows, guard.Bad, w.Commit()
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if strings.TrimSpace(h) == name {
			return i
		}
	}
	return -1
}
