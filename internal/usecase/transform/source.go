package transform

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/csvio"
)

// Rows that get a warn line each; later bad rows are logged at debug.
const warnBadRows = 10

// InputFile is a named input checked during preflight.
type InputFile struct {
	Role string
	Path string
}

// RequireFiles reports every missing input at once. Empty paths are optional
// inputs that were not configured.
func RequireFiles(files ...InputFile) error {
	var missing kgload.MissingInputs
	for _, f := range files {
		if f.Path == "" {
			continue
		}
		info, err := os.Stat(f.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				missing = append(missing, &kgload.MissingInputError{Role: f.Role, Path: f.Path})
				continue
			}
			return errs.Wrapf(err, "stat %s", f.Path)
		}
		if info.IsDir() {
			missing = append(missing, &kgload.MissingInputError{Role: f.Role, Path: f.Path})
		}
	}
	if len(missing) > 0 {
		return missing
	}
	return nil
}

// guardedSource reads well-formed rows from r. Malformed rows are skipped and
// logged until the guard's tolerance is exhausted.
func guardedSource(ctx context.Context, r *csvio.Reader, g *csvio.Guard) Source {
	return func() ([]string, error) {
		for {
			row, err := r.Read()
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			if err != nil && !csvio.IsParseError(err) {
				return nil, errs.Wrapf(err, "read %s", r.Path())
			}

			line := r.Line()
			keep, gerr := g.Check(line, row, err)
			if gerr != nil {
				return nil, gerr
			}
			if keep {
				return row, nil
			}

			attrs := []slog.Attr{
				slog.String("file", r.Path()),
				slog.Int64("line", line),
				slog.Int("fields", len(row)),
				slog.Int("want", g.Want),
			}
			if g.Bad <= warnBadRows {
				logging.Warn(ctx, "skipping malformed row", attrs...)
			} else {
				logging.Debug(ctx, "skipping malformed row", attrs...)
			}
		}
	}
}

// loadSchema reads an optional header file.
func loadSchema(path string, opts csvio.Options) (*kgload.Schema, error) {
	if path == "" {
		return nil, nil
	}
	return csvio.ReadSchema(path, opts)
}

func schemaWidth(s *kgload.Schema) int {
	if s == nil {
		return 0
	}
	return s.Len()
}

// checkOutputHeader writes tokens to path, or, when path already exists,
// checks that its width matches width.
func checkOutputHeader(path string, opts csvio.Options, tokens []string, width int) (generated bool, err error) {
	if path == "" {
		return false, nil
	}
	if _, statErr := os.Stat(path); statErr == nil {
		existing, err := csvio.ReadSchema(path, opts)
		if err != nil {
			return false, err
		}
		if err := existing.CheckWidth(width); err != nil {
			return false, err
		}
		return false, nil
	}
	if tokens == nil {
		return false, errs.Wrapf(kgload.ErrHeaderRequired, "generate %s", path)
	}
	if len(tokens) != width {
		return false, errs.Wrapf(kgload.ErrHeaderMismatch, "generated header %s has %d columns, data has %d", path, len(tokens), width)
	}
	return true, csvio.WriteRecord(path, opts.Delimiter, tokens)
}
