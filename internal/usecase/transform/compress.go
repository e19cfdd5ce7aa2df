package transform

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/csvio"
)

const DefaultCompressionLevel = gzip.BestCompression

type CompressResult struct {
	File           string
	Output         string
	OriginalSize   int64
	CompressedSize int64
}

// Ratio is the space saved in percent.
func (r CompressResult) Ratio() float64 {
	if r.OriginalSize == 0 {
		return 0
	}
	return (1 - float64(r.CompressedSize)/float64(r.OriginalSize)) * 100
}

// Compress writes <name>.csv.gz into dstDir for every .csv file in srcDir.
// neo4j-admin reads the compressed files directly.
func Compress(ctx context.Context, srcDir, dstDir string, level, workers int) ([]CompressResult, CompressResult, error) {
	ctx = logging.WithAttrs(ctx, slog.String("component", "transform"), slog.String("stage", "compress"))
	var total CompressResult
	if level == 0 {
		level = DefaultCompressionLevel
	}

	files, err := listCSV(srcDir)
	if err != nil {
		return nil, total, err
	}
	logging.Info(ctx, "compressing import files", slog.Int("files", len(files)), slog.Int("level", level))

	results := make([]CompressResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, name := range files {
		g.Go(func() error {
			res, err := gzipFile(gctx, filepath.Join(srcDir, name), filepath.Join(dstDir, name+".gz"), level)
			if err != nil {
				return err
			}
			res.File = name
			results[i] = res
			logging.Info(gctx, "compressed file",
				slog.String("file", name),
				slog.String("original", humanize.Bytes(uint64(res.OriginalSize))),
				slog.String("compressed", humanize.Bytes(uint64(res.CompressedSize))),
				slog.Float64("saved_pct", res.Ratio()))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, total, err
	}

	for _, r := range results {
		total.OriginalSize += r.OriginalSize
		total.CompressedSize += r.CompressedSize
	}
	total.Output = dstDir
	return results, total, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func gzipFile(ctx context.Context, src, dst string, level int) (CompressResult, error) {
	res := CompressResult{Output: dst}

	in, err := os.Open(src)
	if err != nil {
		return res, errs.Wrapf(err, "open %s", src)
	}
	defer in.Close()

	out, err := csvio.CreateAtomic(dst)
	if err != nil {
		return res, err
	}
	defer out.Abort()

	zw, err := gzip.NewWriterLevel(out, level)
	if err != nil {
		return res, errs.Wrapf(err, "gzip level %d", level)
	}
	zw.Name = filepath.Base(src)

	n, err := io.Copy(zw, ctxReader{ctx: ctx, r: in})
	if err != nil {
		return res, errs.Wrapf(err, "compress %s", src)
	}
	if err := zw.Close(); err != nil {
		return res, errs.Wrapf(err, "compress %s", src)
	}
	if err := out.Commit(); err != nil {
		return res, err
	}

	info, err := os.Stat(dst)
	if err != nil {
		return res, errs.Wrapf(err, "stat %s", dst)
	}
	res.OriginalSize = n
	res.CompressedSize = info.Size()
	return res, nil
}
