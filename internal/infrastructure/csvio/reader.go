package csvio

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
)

const (
	CompressionAuto = "auto"
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"

	EncodingUTF8   = "utf-8"
	EncodingLatin1 = "latin1"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Options controls how delimited files are decoded.
type Options struct {
	Delimiter   rune
	Encoding    string
	Compression string
	LazyQuotes  bool
}

// DefaultOptions is comma separated UTF-8 with compression sniffed from the
// first bytes of the file.
func DefaultOptions() Options {
	return Options{
		Delimiter:   ',',
		Encoding:    EncodingUTF8,
		Compression: CompressionAuto,
		LazyQuotes:  true,
	}
}

func (o Options) delimiter() rune {
	if o.Delimiter == 0 {
		return ','
	}
	return o.Delimiter
}

// Reader streams records from one delimited file.
type Reader struct {
	path    string
	csv     *csv.Reader
	closers []io.Closer
	line    int64
}

// Open opens path for streaming. A missing file is reported as
// kgload.MissingInputError with the given role.
func Open(path string, role string, opts Options) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &kgload.MissingInputError{Role: role, Path: path}
		}
		return nil, errs.Wrapf(err, "open %s", path)
	}

	r := &Reader{path: path, closers: []io.Closer{f}}
	src, err := r.decompress(bufio.NewReaderSize(f, 1<<20), opts.Compression)
	if err != nil {
		_ = r.Close()
		return nil, err
	}

	decoded, err := decode(src, opts.Encoding)
	if err != nil {
		_ = r.Close()
		return nil, err
	}

	cr := csv.NewReader(decoded)
	cr.Comma = opts.delimiter()
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = opts.LazyQuotes
	r.csv = cr
	return r, nil
}

func (r *Reader) decompress(br *bufio.Reader, mode string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", CompressionAuto:
		head, _ := br.Peek(len(zstdMagic))
		switch {
		case bytes.HasPrefix(head, gzipMagic):
			return r.gzip(br)
		case bytes.HasPrefix(head, zstdMagic):
			return r.zstd(br)
		default:
			return br, nil
		}
	case CompressionNone:
		return br, nil
	case CompressionGzip:
		return r.gzip(br)
	case CompressionZstd:
		return r.zstd(br)
	default:
		return nil, fmt.Errorf("unknown compression %q", mode)
	}
}

func (r *Reader) gzip(src io.Reader) (io.Reader, error) {
	zr, err := gzip.NewReader(src)
	if err != nil {
		return nil, errs.Wrapf(err, "gzip header %s", r.path)
	}
	r.closers = append(r.closers, zr)
	return zr, nil
}

func (r *Reader) zstd(src io.Reader) (io.Reader, error) {
	dec, err := zstd.NewReader(src)
	if err != nil {
		return nil, errs.Wrapf(err, "zstd stream %s", r.path)
	}
	rc := dec.IOReadCloser()
	r.closers = append(r.closers, rc)
	return rc, nil
}

func decode(src io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", EncodingUTF8, "utf8":
		// Strip a leading BOM, pass every other byte through untouched.
		return transform.NewReader(src, unicode.BOMOverride(transform.Nop)), nil
	case EncodingLatin1, "iso-8859-1":
		return transform.NewReader(src, charmap.ISO8859_1.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}

func (r *Reader) Path() string { return r.path }

// Read returns the next record. Field-level parse errors come back as
// *csv.ParseError and the reader stays usable.
func (r *Reader) Read() ([]string, error) {
	row, err := r.csv.Read()
	var pe *csv.ParseError
	switch {
	case err == nil && len(row) > 0:
		line, _ := r.csv.FieldPos(0)
		r.line = int64(line)
	case errors.As(err, &pe):
		r.line = int64(pe.StartLine)
	}
	return row, err
}

// Line is the input line of the record returned by the last Read.
func (r *Reader) Line() int64 { return r.line }

func (r *Reader) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}

// ReadSchema reads the first record of a header-definition file.
func ReadSchema(path string, opts Options) (*kgload.Schema, error) {
	r, err := Open(path, "header", opts)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	tokens, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("header %s is empty", path)
		}
		return nil, errs.Wrapf(err, "read header %s", path)
	}
	return kgload.NewSchema(path, tokens)
}

// IsParseError reports whether err is a recoverable record-level error.
func IsParseError(err error) bool {
	var pe *csv.ParseError
	return errors.As(err, &pe)
}
