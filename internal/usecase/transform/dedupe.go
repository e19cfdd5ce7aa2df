package transform

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/csvio"
)

const DefaultDedupeKeyColumns = 3

type DedupeInput struct {
	Input      string
	Output     string
	KeyColumns int
	HasHeader  bool
	CSV        csvio.Options
}

type DedupeStats struct {
	Rows      int64
	Unique    int64
	ShortRows int64
}

// Dedupe merges rows sharing their first KeyColumns fields into one row with a
// trailing frequency column, in first-seen order.
func Dedupe(ctx context.Context, in DedupeInput) (DedupeStats, error) {
	var stats DedupeStats
	ctx = logging.WithAttrs(ctx, slog.String("component", "transform"), slog.String("stage", kgload.StageDedupe))

	k := in.KeyColumns
	if k <= 0 {
		k = DefaultDedupeKeyColumns
	}

	r, err := csvio.Open(in.Input, "input", in.CSV)
	if err != nil {
		return stats, err
	}
	defer r.Close()

	var (
		header []string
		order  [][]string
		freq   = make(map[string]int64)
	)
	for read := int64(0); ; read++ {
		if read%batchSize == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, errs.Wrapf(err, "read %s", in.Input)
		}
		if in.HasHeader && header == nil {
			header = row
			continue
		}
		stats.Rows++
		if len(row) < k {
			stats.ShortRows++
			continue
		}
		key := strings.Join(row[:k], "\x00")
		if _, seen := freq[key]; !seen {
			order = append(order, row[:k:k])
		}
		freq[key]++
	}
	stats.Unique = int64(len(order))

	w, err := csvio.Create(in.Output, in.CSV.Delimiter)
	if err != nil {
		return stats, err
	}
	defer w.Abort()

	if header != nil {
		if len(header) < k {
			return stats, errs.Wrapf(kgload.ErrHeaderMismatch, "header of %s has fewer than %d columns", in.Input, k)
		}
		out := append(append([]string{}, header[:k]...), "frequency")
		if err := w.Write(out); err != nil {
			return stats, errs.Wrapf(err, "write %s", in.Output)
		}
	}
	for i, key := range order {
		if i%batchSize == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}
		n := freq[strings.Join(key, "\x00")]
		if err := w.Write(append(key, strconv.FormatInt(n, 10))); err != nil {
			return stats, errs.Wrapf(err, "write %s", in.Output)
		}
	}
	if err := w.Commit(); err != nil {
		return stats, err
	}

	logging.Info(ctx, "dedupe finished",
		slog.String("input", in.Input),
		slog.Int64("rows", stats.Rows),
		slog.Int64("unique", stats.Unique),
		slog.Int64("short_rows", stats.ShortRows))
	return stats, nil
}
