package transform

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/csvio"
)

// DefaultTypeColumn is the relationship type column of the SemMedDB
// connection files.
const DefaultTypeColumn = 2

type TypeCount struct {
	Value   string
	Count   int64
	Percent float64
}

type FileTypeStats struct {
	File   string
	Total  int64
	Counts []TypeCount
}

type TypeStats struct {
	Files []FileTypeStats
	Total FileTypeStats
}

// CountTypes counts the values of column across files. Rows too short to
// hold the column are ignored.
func CountTypes(ctx context.Context, files []string, column int, opts csvio.Options) (TypeStats, error) {
	var out TypeStats
	ctx = logging.WithAttrs(ctx, slog.String("component", "transform"), slog.String("stage", "stats"))

	inputs := make([]InputFile, 0, len(files))
	for _, f := range files {
		inputs = append(inputs, InputFile{Role: "input", Path: f})
	}
	if err := RequireFiles(inputs...); err != nil {
		return out, err
	}

	total := make(map[string]int64)
	for _, file := range files {
		counts, n, err := countColumn(ctx, file, column, opts)
		if err != nil {
			return out, err
		}
		for k, v := range counts {
			total[k] += v
		}
		out.Files = append(out.Files, FileTypeStats{File: file, Total: n, Counts: rank(counts, n)})
		out.Total.Total += n
	}
	out.Total.Counts = rank(total, out.Total.Total)
	return out, nil
}

func countColumn(ctx context.Context, file string, column int, opts csvio.Options) (map[string]int64, int64, error) {
	r, err := csvio.Open(file, "input", opts)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	counts := make(map[string]int64)
	var n int64
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !csvio.IsParseError(err) {
			return nil, n, errs.Wrapf(err, "read %s", file)
		}
		if err != nil || column >= len(row) {
			continue
		}
		counts[row[column]]++
		n++
		if n%100_000 == 0 {
			logging.Debug(ctx, "counting", slog.String("file", file), slog.Int64("rows", n))
		}
	}
	return counts, n, nil
}

func rank(counts map[string]int64, total int64) []TypeCount {
	out := make([]TypeCount, 0, len(counts))
	for v, c := range counts {
		tc := TypeCount{Value: v, Count: c}
		if total > 0 {
			tc.Percent = float64(c) * 100 / float64(total)
		}
		out = append(out, tc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out
}
