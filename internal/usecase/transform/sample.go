package transform

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/csvio"
)

const DefaultSampleLines = 100_000

type SampleResult struct {
	File  string
	Lines int64
}

// Sample copies the first lines of every .csv file in srcDir into dstDir,
// several files at a time.
func Sample(ctx context.Context, srcDir, dstDir string, lines int64, workers int) ([]SampleResult, error) {
	ctx = logging.WithAttrs(ctx, slog.String("component", "transform"), slog.String("stage", "sample"))
	if lines <= 0 {
		lines = DefaultSampleLines
	}

	files, err := listCSV(srcDir)
	if err != nil {
		return nil, err
	}

	results := make([]SampleResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, name := range files {
		g.Go(func() error {
			n, err := headLines(gctx, filepath.Join(srcDir, name), filepath.Join(dstDir, name), lines)
			if err != nil {
				return err
			}
			results[i] = SampleResult{File: name, Lines: n}
			logging.Info(gctx, "sampled file", slog.String("file", name), slog.Int64("lines", n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func headLines(ctx context.Context, src, dst string, limit int64) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, errs.Wrapf(err, "open %s", src)
	}
	defer in.Close()

	out, err := csvio.CreateAtomic(dst)
	if err != nil {
		return 0, err
	}
	defer out.Abort()

	br := bufio.NewReaderSize(in, 1<<20)
	bw := bufio.NewWriterSize(out, 1<<20)
	var n int64
	for n < limit {
		if n%10_000 == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		line, readErr := br.ReadSlice('\n')
		if errors.Is(readErr, bufio.ErrBufferFull) {
			// Long line: copy the rest of it chunk by chunk.
			if _, err := bw.Write(line); err != nil {
				return n, errs.Wrapf(err, "write %s", dst)
			}
			continue
		}
		if len(line) > 0 {
			if _, err := bw.Write(line); err != nil {
				return n, errs.Wrapf(err, "write %s", dst)
			}
			n++
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return n, errs.Wrapf(readErr, "read %s", src)
		}
	}
	if err := bw.Flush(); err != nil {
		return n, errs.Wrapf(err, "flush %s", dst)
	}
	return n, out.Commit()
}

// listCSV returns the .csv files of dir in name order.
func listCSV(dir string) ([]string, error) {
	return listWithSuffix(dir, ".csv")
}

func listWithSuffix(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &kgload.MissingInputError{Role: "directory", Path: dir}
		}
		return nil, errs.Wrapf(err, "read dir %s", dir)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(strings.ToLower(e.Name()), suffix) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
