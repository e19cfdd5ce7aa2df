package csvio

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"kgload/internal/errs"
)

// AtomicFile is written under a temp name next to path and renamed into place
// on Commit, so a failed run never leaves a partial output behind.
type AtomicFile struct {
	path string
	tmp  *os.File
	done bool
}

func CreateAtomic(path string) (*AtomicFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrapf(err, "create output dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, errs.Wrapf(err, "create temp file for %s", path)
	}
	return &AtomicFile{path: path, tmp: tmp}, nil
}

func (a *AtomicFile) Write(p []byte) (int, error) { return a.tmp.Write(p) }

func (a *AtomicFile) Path() string { return a.path }

func (a *AtomicFile) Commit() error {
	if a.done {
		return nil
	}
	a.done = true

	if err := a.tmp.Sync(); err != nil {
		a.discard()
		return errs.Wrapf(err, "sync %s", a.path)
	}
	if err := a.tmp.Close(); err != nil {
		_ = os.Remove(a.tmp.Name())
		return errs.Wrapf(err, "close %s", a.path)
	}
	if err := os.Rename(a.tmp.Name(), a.path); err != nil {
		_ = os.Remove(a.tmp.Name())
		return errs.Wrapf(err, "rename into %s", a.path)
	}
	return nil
}

// Abort drops the temp file. Safe to call after Commit.
func (a *AtomicFile) Abort() {
	if a.done {
		return
	}
	a.done = true
	a.discard()
}

func (a *AtomicFile) discard() {
	_ = a.tmp.Close()
	_ = os.Remove(a.tmp.Name())
}

// Writer writes delimited records into an AtomicFile. A ".gz" suffix on the
// destination enables gzip.
type Writer struct {
	file *AtomicFile
	buf  *bufio.Writer
	gz   *gzip.Writer
	csv  *csv.Writer
	rows int64
}

func Create(path string, delimiter rune) (*Writer, error) {
	file, err := CreateAtomic(path)
	if err != nil {
		return nil, err
	}

	w := &Writer{file: file, buf: bufio.NewWriterSize(file, 1<<20)}
	var sink io.Writer = w.buf
	if strings.HasSuffix(path, ".gz") {
		w.gz = gzip.NewWriter(w.buf)
		sink = w.gz
	}
	w.csv = csv.NewWriter(sink)
	if delimiter != 0 {
		w.csv.Comma = delimiter
	}
	return w, nil
}

func (w *Writer) Write(record []string) error {
	w.rows++
	return w.csv.Write(record)
}

// Rows is the number of records written so far.
func (w *Writer) Rows() int64 { return w.rows }

// Commit flushes everything and moves the output over the destination.
func (w *Writer) Commit() error {
	if w.file.done {
		return nil
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.file.Abort()
		return errs.Wrapf(err, "write %s", w.file.path)
	}
	if w.gz != nil {
		if err := w.gz.Close(); err != nil {
			w.file.Abort()
			return errs.Wrapf(err, "gzip %s", w.file.path)
		}
	}
	if err := w.buf.Flush(); err != nil {
		w.file.Abort()
		return errs.Wrapf(err, "flush %s", w.file.path)
	}
	return w.file.Commit()
}

func (w *Writer) Abort() { w.file.Abort() }

// WriteRecord writes a one-record file atomically, used for header files.
func WriteRecord(path string, delimiter rune, record []string) error {
	w, err := Create(path, delimiter)
	if err != nil {
		return err
	}
	if err := w.Write(record); err != nil {
		w.Abort()
		return errs.Wrapf(err, "write %s", path)
	}
	return w.Commit()
}
