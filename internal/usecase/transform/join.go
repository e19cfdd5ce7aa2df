package transform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/csvio"
)

const (
	JoinInner = "inner"
	JoinLeft  = "left"
)

// JoinInput describes one primary/auxiliary join. Key columns are either
// integers or names resolved through the matching header file.
type JoinInput struct {
	Primary         string
	PrimaryHeader   string
	PrimaryKey      string
	Auxiliary       string
	AuxiliaryHeader string
	AuxiliaryKey    string
	Output          string
	OutputHeader    string
	Mode            string
	Tolerance       int64
	Workers         int
	CSV             csvio.Options
}

// JoinStats is always reported, including on failure.
type JoinStats struct {
	PrimaryRows         int64
	AuxiliaryRows       int64
	AuxiliaryDuplicates int64
	Matched             int64
	Unmatched           int64
	Dropped             int64
	BadPrimaryRows      int64
	BadAuxiliaryRows    int64
	OutputRows          int64
	HeaderGenerated     bool
	Duration            time.Duration
}

func (s JoinStats) BadRows() int64 { return s.BadPrimaryRows + s.BadAuxiliaryRows }

// AuxIndex maps a join key to the auxiliary row minus its key column. It is
// built once and only read while the primary table streams.
type AuxIndex struct {
	rows       map[string][]string
	width      int
	duplicates int64
}

func (a *AuxIndex) Len() int { return len(a.rows) }

// Width is the number of auxiliary columns appended to each joined row.
func (a *AuxIndex) Width() int { return a.width }

func (a *AuxIndex) Lookup(key string) ([]string, bool) {
	row, ok := a.rows[key]
	return row, ok
}

// BuildAuxIndex loads the whole auxiliary table. On duplicate keys the last
// row wins.
func BuildAuxIndex(ctx context.Context, r *csvio.Reader, g *csvio.Guard, key int) (*AuxIndex, error) {
	idx := &AuxIndex{rows: make(map[string][]string)}
	next := guardedSource(ctx, r, g)
	for {
		row, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return idx, err
		}
		if key >= len(row) {
			return idx, fmt.Errorf("%w: key column %d, auxiliary row has %d fields", kgload.ErrInvalidColumnRef, key, len(row))
		}

		rest := make([]string, 0, len(row)-1)
		rest = append(rest, row[:key]...)
		rest = append(rest, row[key+1:]...)
		k := row[key]
		if _, dup := idx.rows[k]; dup {
			idx.duplicates++
		}
		idx.rows[k] = rest
	}
	if g.Want > 0 {
		idx.width = g.Want - 1
	}
	return idx, nil
}

// JoinMapper emits primary ⧺ auxiliary-minus-key for matching rows. In left
// mode unmatched rows get empty auxiliary columns.
func JoinMapper(aux *AuxIndex, key int, mode string) Mapper {
	left := mode == JoinLeft
	return func(row []string) ([]string, bool) {
		extra, ok := aux.Lookup(row[key])
		if !ok {
			if !left {
				return nil, false
			}
			extra = make([]string, aux.Width())
		}
		out := make([]string, 0, len(row)+len(extra))
		out = append(out, row...)
		out = append(out, extra...)
		return out, true
	}
}

// Join runs the row-keyed join described by in.
func Join(ctx context.Context, in JoinInput) (JoinStats, error) {
	start := time.Now()
	ctx = logging.WithAttrs(ctx, slog.String("component", "transform"), slog.String("stage", kgload.StageJoin))

	stats, err := join(ctx, in)
	stats.Duration = time.Since(start)

	attrs := []slog.Attr{
		slog.String("output", in.Output),
		slog.String("mode", joinMode(in.Mode)),
		slog.Int64("primary_rows", stats.PrimaryRows),
		slog.Int64("auxiliary_rows", stats.AuxiliaryRows),
		slog.Int64("auxiliary_duplicates", stats.AuxiliaryDuplicates),
		slog.Int64("matched", stats.Matched),
		slog.Int64("dropped", stats.Dropped),
		slog.Int64("bad_rows", stats.BadRows()),
		slog.Duration("duration", stats.Duration),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("err", errs.Loggable(err)))
		logging.Error(ctx, "join failed", attrs...)
		return stats, kgload.AtStage(kgload.StageJoin, err)
	}
	logging.Info(ctx, "join finished", attrs...)
	return stats, nil
}

func joinMode(mode string) string {
	if strings.EqualFold(strings.TrimSpace(mode), JoinLeft) {
		return JoinLeft
	}
	return JoinInner
}

func join(ctx context.Context, in JoinInput) (JoinStats, error) {
	var stats JoinStats
	mode := joinMode(in.Mode)
	if in.Mode != "" && !strings.EqualFold(strings.TrimSpace(in.Mode), mode) {
		return stats, fmt.Errorf("unknown join mode %q", in.Mode)
	}

	if err := RequireFiles(
		InputFile{Role: "primary", Path: in.Primary},
		InputFile{Role: "primary header", Path: in.PrimaryHeader},
		InputFile{Role: "auxiliary", Path: in.Auxiliary},
		InputFile{Role: "auxiliary header", Path: in.AuxiliaryHeader},
	); err != nil {
		return stats, err
	}

	primarySchema, err := loadSchema(in.PrimaryHeader, in.CSV)
	if err != nil {
		return stats, err
	}
	auxSchema, err := loadSchema(in.AuxiliaryHeader, in.CSV)
	if err != nil {
		return stats, err
	}
	pkey, err := kgload.ResolveColumn(in.PrimaryKey, primarySchema)
	if err != nil {
		return stats, errs.Wrap(err, "primary key")
	}
	akey, err := kgload.ResolveColumn(in.AuxiliaryKey, auxSchema)
	if err != nil {
		return stats, errs.Wrap(err, "auxiliary key")
	}

	auxReader, err := csvio.Open(in.Auxiliary, "auxiliary", in.CSV)
	if err != nil {
		return stats, err
	}
	auxGuard := csvio.NewGuard(in.Auxiliary, schemaWidth(auxSchema), in.Tolerance)
	aux, err := BuildAuxIndex(ctx, auxReader, auxGuard, akey)
	_ = auxReader.Close()
	stats.AuxiliaryRows = int64(aux.Len()) + aux.duplicates
	stats.AuxiliaryDuplicates = aux.duplicates
	stats.BadAuxiliaryRows = auxGuard.Bad
	if err != nil {
		return stats, err
	}
	if aux.duplicates > 0 {
		logging.Warn(ctx, "auxiliary table has duplicate keys, last row wins",
			slog.String("file", in.Auxiliary), slog.Int64("duplicates", aux.duplicates))
	}

	primaryReader, err := csvio.Open(in.Primary, "primary", in.CSV)
	if err != nil {
		return stats, err
	}
	defer primaryReader.Close()
	primaryGuard := csvio.NewGuard(in.Primary, schemaWidth(primarySchema), in.Tolerance)

	w, err := csvio.Create(in.Output, in.CSV.Delimiter)
	if err != nil {
		return stats, err
	}
	defer w.Abort()

	src := guardedSource(ctx, primaryReader, primaryGuard)
	keyed := func() ([]string, error) {
		row, err := src()
		if err == nil && pkey >= len(row) {
			return nil, fmt.Errorf("%w: key column %d, primary row has %d fields", kgload.ErrInvalidColumnRef, pkey, len(row))
		}
		return row, err
	}
	// Unmatched rows are counted where rows are written in order, so a run
	// that stops early reports only rows it actually consumed. A padded row
	// keeps the primary key at pkey.
	var paddedRows int64
	sink := func(row []string) error {
		if mode == JoinLeft {
			if _, ok := aux.Lookup(row[pkey]); !ok {
				paddedRows++
			}
		}
		return w.Write(row)
	}
	counts, err := Stream(ctx, keyed, JoinMapper(aux, pkey, mode), sink, in.Workers)
	stats.PrimaryRows = counts.In
	stats.Dropped = counts.Dropped
	stats.Unmatched = counts.Dropped + paddedRows
	stats.Matched = counts.In - stats.Unmatched
	stats.OutputRows = counts.Out
	stats.BadPrimaryRows = primaryGuard.Bad
	if err != nil {
		return stats, err
	}

	// An empty auxiliary table gives no width; fall back to its header.
	auxWidth := aux.Width()
	if auxWidth == 0 && auxSchema != nil {
		auxWidth = auxSchema.Len() - 1
	}
	var tokens []string
	if primarySchema != nil && auxSchema != nil {
		tokens = append(primarySchema.Tokens(), auxSchema.Without(akey)...)
	}
	if counts.In > 0 || tokens != nil {
		width := primaryGuard.Want + auxWidth
		if primaryGuard.Want == 0 {
			width = len(tokens)
		}
		stats.HeaderGenerated, err = checkOutputHeader(in.OutputHeader, in.CSV, tokens, width)
		if err != nil {
			return stats, err
		}
	}

	if err := w.Commit(); err != nil {
		return stats, err
	}
	return stats, nil
}
