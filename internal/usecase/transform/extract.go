package transform

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/csvio"
)

type ExtractInput struct {
	Dump   string
	Table  string
	Output string
	CSV    csvio.Options
}

type ExtractStats struct {
	Statements int64
	Rows       int64
}

// ExtractInserts converts the `INSERT INTO `table` VALUES (...),(...);`
// statements of a SQL dump into CSV rows. NULL becomes an empty field.
func ExtractInserts(ctx context.Context, in ExtractInput) (ExtractStats, error) {
	var stats ExtractStats
	ctx = logging.WithAttrs(ctx, slog.String("component", "transform"), slog.String("stage", kgload.StageExtract))

	f, err := os.Open(in.Dump)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stats, &kgload.MissingInputError{Role: "sql dump", Path: in.Dump}
		}
		return stats, errs.Wrapf(err, "open %s", in.Dump)
	}
	defer f.Close()

	w, err := csvio.Create(in.Output, in.CSV.Delimiter)
	if err != nil {
		return stats, err
	}
	defer w.Abort()

	prefix := fmt.Sprintf("INSERT INTO `%s` VALUES", in.Table)
	br := bufio.NewReaderSize(f, 1<<20)
	for {
		if stats.Statements%64 == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}
		line, readErr := br.ReadString('\n')
		if strings.HasPrefix(line, prefix) {
			stats.Statements++
			rows, err := ParseValues(line[len(prefix):])
			if err != nil {
				return stats, errs.Wrapf(err, "statement %d", stats.Statements)
			}
			for _, row := range rows {
				if err := w.Write(row); err != nil {
					return stats, errs.Wrapf(err, "write %s", in.Output)
				}
				stats.Rows++
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return stats, errs.Wrapf(readErr, "read %s", in.Dump)
		}
	}

	if err := w.Commit(); err != nil {
		return stats, err
	}
	logging.Info(ctx, "extract finished",
		slog.String("table", in.Table),
		slog.Int64("statements", stats.Statements),
		slog.Int64("rows", stats.Rows))
	return stats, nil
}

// ParseValues parses the tuple list after VALUES. Quoted strings accept both
// backslash escapes and doubled quotes.
func ParseValues(s string) ([][]string, error) {
	var (
		rows  [][]string
		row   []string
		field strings.Builder
		i     int
	)
	n := len(s)
	skipSpace := func() {
		for i < n && (s[i] == ' ' || s[i] == '\t' || s[i] == '\r' || s[i] == '\n') {
			i++
		}
	}

	for {
		skipSpace()
		if i >= n || s[i] == ';' {
			return rows, nil
		}
		if s[i] != '(' {
			return rows, fmt.Errorf("expected ( at offset %d", i)
		}
		i++
		row = nil

		for {
			skipSpace()
			field.Reset()
			if i < n && s[i] == '\'' {
				i++
				closed := false
				for i < n {
					c := s[i]
					switch {
					case c == '\\' && i+1 < n:
						field.WriteByte(unescape(s[i+1]))
						i += 2
					case c == '\'' && i+1 < n && s[i+1] == '\'':
						field.WriteByte('\'')
						i += 2
					case c == '\'':
						i++
						closed = true
					default:
						field.WriteByte(c)
						i++
					}
					if closed {
						break
					}
				}
				if !closed {
					return rows, fmt.Errorf("unterminated string in tuple %d", len(rows)+1)
				}
				row = append(row, field.String())
			} else {
				start := i
				for i < n && s[i] != ',' && s[i] != ')' {
					i++
				}
				v := strings.TrimSpace(s[start:i])
				if strings.EqualFold(v, "NULL") {
					v = ""
				}
				row = append(row, v)
			}

			skipSpace()
			if i >= n {
				return rows, fmt.Errorf("unterminated tuple %d", len(rows)+1)
			}
			if s[i] == ',' {
				i++
				continue
			}
			if s[i] == ')' {
				i++
				break
			}
			return rows, fmt.Errorf("unexpected %q at offset %d", s[i], i)
		}

		rows = append(rows, row)
		skipSpace()
		if i < n && s[i] == ',' {
			i++
		}
	}
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	case '0':
		return 0
	default:
		return c
	}
}
