package transform

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/csvio"
)

// KGXMergeInput combines per-ontology KGX node and edge TSVs into one node
// file and one edge file, both with a header row, ready for ConvertKGX.
type KGXMergeInput struct {
	Nodes     []string
	Edges     []string
	NodesOut  string
	EdgesOut  string
	Tolerance int64
	CSV       csvio.Options
}

type KGXMergeStats struct {
	NodeFiles      int
	EdgeFiles      int
	NodesIn        int64
	Nodes          int64
	DuplicateNodes int64
	Edges          int64
	BadRows        int64
}

// Field values lose embedded line breaks and tabs so the merged TSV stays one
// record per line.
var kgxSanitizer = strings.NewReplacer("\r", " ", "\n", " ", "\t", " ")

func sanitizeKGX(v string) string {
	v = kgxSanitizer.Replace(v)
	if v == "nan" {
		return ""
	}
	return v
}

// MergeKGX concatenates node files keeping the first node per id, and edge
// files as they are. Columns are the union of every input header in
// first-seen order; missing values are empty.
func MergeKGX(ctx context.Context, in KGXMergeInput) (KGXMergeStats, error) {
	var stats KGXMergeStats
	ctx = logging.WithAttrs(ctx, slog.String("component", "transform"), slog.String("stage", kgload.StageKGXMerge))

	var required []InputFile
	for _, p := range in.Nodes {
		required = append(required, InputFile{Role: "kgx nodes", Path: p})
	}
	for _, p := range in.Edges {
		required = append(required, InputFile{Role: "kgx edges", Path: p})
	}
	if err := RequireFiles(required...); err != nil {
		return stats, err
	}

	opts := in.CSV
	opts.Delimiter = '\t'

	if len(in.Nodes) > 0 && in.NodesOut != "" {
		res, err := mergeKGXFiles(ctx, in.Nodes, in.NodesOut, opts, in.Tolerance, true)
		stats.NodeFiles = res.files
		stats.NodesIn = res.rows
		stats.Nodes = res.rows - res.duplicates
		stats.DuplicateNodes = res.duplicates
		stats.BadRows += res.bad
		if err != nil {
			return stats, err
		}
	}
	if len(in.Edges) > 0 && in.EdgesOut != "" {
		res, err := mergeKGXFiles(ctx, in.Edges, in.EdgesOut, opts, in.Tolerance, false)
		stats.EdgeFiles = res.files
		stats.Edges = res.rows
		stats.BadRows += res.bad
		if err != nil {
			return stats, err
		}
	}

	logging.Info(ctx, "kgx merge finished",
		slog.Int("node_files", stats.NodeFiles),
		slog.Int("edge_files", stats.EdgeFiles),
		slog.Int64("nodes", stats.Nodes),
		slog.Int64("duplicate_nodes", stats.DuplicateNodes),
		slog.Int64("edges", stats.Edges),
		slog.Int64("bad_rows", stats.BadRows))
	return stats, nil
}

type mergeResult struct {
	files      int
	rows       int64
	duplicates int64
	bad        int64
}

// kgxSource is one input file's header and how it maps onto the merged
// columns.
type kgxSource struct {
	path       string
	header     []string
	idFromName bool
}

func mergeKGXFiles(ctx context.Context, files []string, output string, opts csvio.Options, tolerance int64, nodes bool) (mergeResult, error) {
	var res mergeResult

	var (
		sources []kgxSource
		columns []string
		pos     = map[string]int{}
	)
	addColumn := func(name string) {
		if _, ok := pos[name]; !ok {
			pos[name] = len(columns)
			columns = append(columns, name)
		}
	}
	for _, path := range files {
		header, err := readKGXHeader(path, opts)
		if errors.Is(err, io.EOF) {
			logging.Warn(ctx, "skipping empty kgx file", slog.String("file", path))
			continue
		}
		if err != nil {
			return res, err
		}
		src := kgxSource{path: path, header: header}
		for _, name := range header {
			addColumn(name)
		}
		if nodes && indexOf(header, "id") < 0 && indexOf(header, "name") >= 0 {
			src.idFromName = true
			addColumn("id")
		}
		sources = append(sources, src)
	}
	res.files = len(sources)

	idPos, hasID := pos["id"]
	w, err := csvio.Create(output, '\t')
	if err != nil {
		return res, err
	}
	defer w.Abort()
	if err := w.Write(columns); err != nil {
		return res, errs.Wrapf(err, "write %s", output)
	}

	seen := map[string]struct{}{}
	for _, src := range sources {
		r, err := csvio.Open(src.path, "kgx", opts)
		if err != nil {
			return res, err
		}
		if _, err := r.Read(); err != nil {
			_ = r.Close()
			return res, errs.Wrapf(err, "read header %s", src.path)
		}

		guard := csvio.NewGuard(src.path, len(src.header), tolerance)
		next := guardedSource(ctx, r, guard)
		namePos := indexOf(src.header, "name")
		var n int64
		for ; ; n++ {
			if n%batchSize == 0 {
				if err := ctx.Err(); err != nil {
					_ = r.Close()
					return res, err
				}
			}
			row, err := next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				res.bad += guard.Bad
				_ = r.Close()
				return res, err
			}

			out := make([]string, len(columns))
			for i, name := range src.header {
				out[pos[name]] = sanitizeKGX(row[i])
			}
			if src.idFromName {
				out[idPos] = sanitizeKGX(row[namePos])
			}
			res.rows++
			if nodes && hasID {
				id := out[idPos]
				if _, dup := seen[id]; dup {
					res.duplicates++
					continue
				}
				seen[id] = struct{}{}
			}
			if err := w.Write(out); err != nil {
				_ = r.Close()
				return res, errs.Wrapf(err, "write %s", output)
			}
		}
		res.bad += guard.Bad
		_ = r.Close()
	}

	if res.duplicates > 0 {
		logging.Info(ctx, "dropped duplicate kgx nodes, first occurrence kept",
			slog.String("output", output), slog.Int64("duplicates", res.duplicates))
	}
	return res, w.Commit()
}

func readKGXHeader(path string, opts csvio.Options) ([]string, error) {
	r, err := csvio.Open(path, "kgx", opts)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errs.Wrapf(err, "read header %s", path)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return header, nil
}
