package transform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/csvio"
)

const (
	DefaultFlagColumn  = "is_generic:boolean"
	DefaultScoreColumn = "generic_score:float"
)

// EnrichInput describes one lookup-based enrichment.
type EnrichInput struct {
	Reference       string
	ReferenceHeader string
	ReferenceKey    string
	ReferenceScore  string
	Target          string
	TargetHeader    string
	TargetKey       string
	Output          string
	OutputHeader    string
	FlagColumn      string
	ScoreColumn     string
	Tolerance       int64
	Workers         int
	CSV             csvio.Options
}

type EnrichStats struct {
	ReferenceRows       int64
	ReferenceDuplicates int64
	TargetRows          int64
	Flagged             int64
	BadReferenceRows    int64
	BadTargetRows       int64
	OutputRows          int64
	HeaderGenerated     bool
	Duration            time.Duration
}

func (s EnrichStats) BadRows() int64 { return s.BadReferenceRows + s.BadTargetRows }

// LookupTable maps a concept id to its score text. The score is validated as a
// number on load and emitted as written.
type LookupTable struct {
	scores     map[string]string
	duplicates int64
}

func NewLookupTable() *LookupTable {
	return &LookupTable{scores: make(map[string]string)}
}

// Put stores score under key; the last write wins. Only finite decimal
// numbers are accepted since the import tool parses the column as a float.
func (t *LookupTable) Put(key, score string) error {
	score = strings.TrimSpace(score)
	v, err := strconv.ParseFloat(score, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || strings.ContainsAny(score, "xX_") {
		return fmt.Errorf("%w: %q", kgload.ErrInvalidScore, score)
	}
	if _, dup := t.scores[key]; dup {
		t.duplicates++
	}
	t.scores[key] = score
	return nil
}

func (t *LookupTable) Get(key string) (string, bool) {
	s, ok := t.scores[key]
	return s, ok
}

func (t *LookupTable) Len() int { return len(t.scores) }

func (t *LookupTable) Duplicates() int64 { return t.duplicates }

// LoadLookupTable reads (key, score) pairs from r. A non-numeric score makes
// the reference row malformed.
func LoadLookupTable(ctx context.Context, r *csvio.Reader, g *csvio.Guard, key, score int) (*LookupTable, error) {
	table := NewLookupTable()
	next := guardedSource(ctx, r, g)
	for {
		row, err := next()
		if errors.Is(err, io.EOF) {
			return table, nil
		}
		if err != nil {
			return table, err
		}
		if key >= len(row) || score >= len(row) {
			return table, fmt.Errorf("%w: reference row has %d fields", kgload.ErrInvalidColumnRef, len(row))
		}
		if err := table.Put(row[key], row[score]); err != nil {
			// Reuse the guard so bad scores count against the same tolerance.
			if _, gerr := g.Check(r.Line(), row, err); gerr != nil {
				return table, gerr
			}
			logging.Warn(ctx, "skipping reference row with bad score",
				slog.String("file", r.Path()), slog.Int64("line", r.Line()), slog.String("score", row[score]))
		}
	}
}

// EnrichMapper appends "true,<score>" for keys present in table and "false,0"
// otherwise. It never drops a row.
func EnrichMapper(table *LookupTable, key int) Mapper {
	return func(row []string) ([]string, bool) {
		out := make([]string, 0, len(row)+2)
		out = append(out, row...)
		if score, ok := table.Get(row[key]); ok {
			return append(out, "true", score), true
		}
		return append(out, "false", "0"), true
	}
}

// Enrich runs the lookup-based enrichment described by in.
func Enrich(ctx context.Context, in EnrichInput) (EnrichStats, error) {
	start := time.Now()
	ctx = logging.WithAttrs(ctx, slog.String("component", "transform"), slog.String("stage", kgload.StageEnrich))

	stats, err := enrich(ctx, in)
	stats.Duration = time.Since(start)

	attrs := []slog.Attr{
		slog.String("output", in.Output),
		slog.Int64("reference_rows", stats.ReferenceRows),
		slog.Int64("reference_duplicates", stats.ReferenceDuplicates),
		slog.Int64("target_rows", stats.TargetRows),
		slog.Int64("flagged", stats.Flagged),
		slog.Int64("bad_rows", stats.BadRows()),
		slog.Duration("duration", stats.Duration),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("err", errs.Loggable(err)))
		logging.Error(ctx, "enrich failed", attrs...)
		return stats, kgload.AtStage(kgload.StageEnrich, err)
	}
	logging.Info(ctx, "enrich finished", attrs...)
	return stats, nil
}

func enrich(ctx context.Context, in EnrichInput) (EnrichStats, error) {
	var stats EnrichStats
	if err := RequireFiles(
		InputFile{Role: "reference", Path: in.Reference},
		InputFile{Role: "reference header", Path: in.ReferenceHeader},
		InputFile{Role: "target", Path: in.Target},
		InputFile{Role: "target header", Path: in.TargetHeader},
	); err != nil {
		return stats, err
	}

	refSchema, err := loadSchema(in.ReferenceHeader, in.CSV)
	if err != nil {
		return stats, err
	}
	targetSchema, err := loadSchema(in.TargetHeader, in.CSV)
	if err != nil {
		return stats, err
	}
	rkey, err := kgload.ResolveColumn(defaultRef(in.ReferenceKey, "0"), refSchema)
	if err != nil {
		return stats, errs.Wrap(err, "reference key")
	}
	rscore, err := kgload.ResolveColumn(defaultRef(in.ReferenceScore, "1"), refSchema)
	if err != nil {
		return stats, errs.Wrap(err, "reference score")
	}
	tkey, err := kgload.ResolveColumn(defaultRef(in.TargetKey, "0"), targetSchema)
	if err != nil {
		return stats, errs.Wrap(err, "target key")
	}

	refReader, err := csvio.Open(in.Reference, "reference", in.CSV)
	if err != nil {
		return stats, err
	}
	refGuard := csvio.NewGuard(in.Reference, schemaWidth(refSchema), in.Tolerance)
	table, err := LoadLookupTable(ctx, refReader, refGuard, rkey, rscore)
	_ = refReader.Close()
	stats.ReferenceRows = int64(table.Len()) + table.Duplicates()
	stats.ReferenceDuplicates = table.Duplicates()
	stats.BadReferenceRows = refGuard.Bad
	if err != nil {
		return stats, err
	}
	if table.Len() == 0 {
		logging.Warn(ctx, "reference table is empty, every row gets false,0", slog.String("file", in.Reference))
	}

	targetReader, err := csvio.Open(in.Target, "target", in.CSV)
	if err != nil {
		return stats, err
	}
	defer targetReader.Close()
	targetGuard := csvio.NewGuard(in.Target, schemaWidth(targetSchema), in.Tolerance)

	w, err := csvio.Create(in.Output, in.CSV.Delimiter)
	if err != nil {
		return stats, err
	}
	defer w.Abort()

	src := guardedSource(ctx, targetReader, targetGuard)
	keyed := func() ([]string, error) {
		row, err := src()
		if err == nil && tkey >= len(row) {
			return nil, fmt.Errorf("%w: key column %d, target row has %d fields", kgload.ErrInvalidColumnRef, tkey, len(row))
		}
		return row, err
	}
	var flagged int64
	sink := func(row []string) error {
		if row[len(row)-2] == "true" {
			flagged++
		}
		return w.Write(row)
	}
	counts, err := Stream(ctx, keyed, EnrichMapper(table, tkey), sink, in.Workers)
	stats.TargetRows = counts.In
	stats.OutputRows = counts.Out
	stats.Flagged = flagged
	stats.BadTargetRows = targetGuard.Bad
	if err != nil {
		return stats, err
	}

	var tokens []string
	if targetSchema != nil {
		tokens = append(targetSchema.Tokens(),
			defaultRef(in.FlagColumn, DefaultFlagColumn),
			defaultRef(in.ScoreColumn, DefaultScoreColumn))
	}
	if counts.In > 0 || tokens != nil {
		width := targetGuard.Want + 2
		if targetGuard.Want == 0 {
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

func defaultRef(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
