package csvio

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"kgload/internal/domain/kgload"
)

func readAll(t *testing.T, path string, opts Options) [][]string {
	t.Helper()
	r, err := Open(path, "input", opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	var rows [][]string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows
		}
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		rows = append(rows, row)
	}
}

func TestOpenSniffsCompression(t *testing.T) {
	dir := t.TempDir()
	plain := []byte("a,b\nc,d\n")

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, _ = zw.Write(plain)
	_ = zw.Close()

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd.NewWriter() error = %v", err)
	}
	zst := enc.EncodeAll(plain, nil)
	_ = enc.Close()

	files := map[string][]byte{
		"plain.csv":    plain,
		"data.csv.gz":  gz.Bytes(),
		"data.csv.zst": zst,
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}

		rows := readAll(t, path, DefaultOptions())
		if len(rows) != 2 || rows[1][1] != "d" {
			t.Fatalf("%s rows = %v", name, rows)
		}
	}
}

func TestOpenStripsBOMAndDecodesLatin1(t *testing.T) {
	dir := t.TempDir()

	bom := filepath.Join(dir, "bom.csv")
	if err := os.WriteFile(bom, []byte("\xef\xbb\xbfid,name\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if rows := readAll(t, bom, DefaultOptions()); rows[0][0] != "id" {
		t.Fatalf("BOM not stripped: %q", rows[0][0])
	}

	latin := filepath.Join(dir, "latin.csv")
	if err := os.WriteFile(latin, []byte("C1,Sj\xf6gren\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	opts := DefaultOptions()
	opts.Encoding = EncodingLatin1
	if rows := readAll(t, latin, opts); rows[0][1] != "Sjögren" {
		t.Fatalf("latin1 decode = %q", rows[0][1])
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.csv"), "primary", DefaultOptions())
	var missing *kgload.MissingInputError
	if !errors.As(err, &missing) {
		t.Fatalf("Open() error = %v, want MissingInputError", err)
	}
	if missing.Role != "primary" {
		t.Fatalf("Role = %q, want primary", missing.Role)
	}
}

func TestGuardTolerance(t *testing.T) {
	tests := []struct {
		name      string
		tolerance int64
		wantErrAt int
	}{
		{name: "fail fast", tolerance: 0, wantErrAt: 1},
		{name: "skip one", tolerance: 1, wantErrAt: 2},
		{name: "unlimited", tolerance: -1, wantErrAt: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuard("x.csv", 0, tt.tolerance)
			if keep, err := g.Check(1, []string{"a", "b"}, nil); !keep || err != nil {
				t.Fatalf("first row keep=%v err=%v", keep, err)
			}

			errAt := -1
			for i := 1; i <= 3; i++ {
				keep, err := g.Check(int64(i+1), []string{"a"}, nil)
				if keep {
					t.Fatalf("short row kept")
				}
				if err != nil {
					errAt = i
					var bad *kgload.MalformedRowError
					if !errors.As(err, &bad) || bad.Want != 2 || bad.Got != 1 {
						t.Fatalf("error = %#v", err)
					}
					break
				}
			}
			if errAt != tt.wantErrAt {
				t.Fatalf("failed at bad row %d, want %d", errAt, tt.wantErrAt)
			}
		})
	}
}

func TestWriterCommitAndAbort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "joined.csv")

	w, err := Create(path, ',')
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_ = w.Write([]string{"p1", "a,b", "x"})
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("destination visible before Commit")
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "p1,\"a,b\",x\n" {
		t.Fatalf("content = %q", got)
	}

	aborted := filepath.Join(dir, "aborted.csv")
	w, err = Create(aborted, ',')
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_ = w.Write([]string{"x"})
	w.Abort()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != "out" {
			t.Fatalf("unexpected leftover %s", e.Name())
		}
	}
}

func TestFingerprintChangesWithContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.csv")
	_ = os.WriteFile(path, []byte("a\n"), 0o644)

	first, err := Fingerprint([]string{path}, "inner")
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	again, _ := Fingerprint([]string{path}, "inner")
	mode, _ := Fingerprint([]string{path}, "left")
	_ = os.WriteFile(path, []byte("b\n"), 0o644)
	changed, _ := Fingerprint([]string{path}, "inner")

	if first != again {
		t.Fatalf("fingerprint not stable")
	}
	if first == mode || first == changed {
		t.Fatalf("fingerprint ignored a change")
	}
}
