package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kgload/internal/domain/kgload"
	"kgload/internal/infrastructure/csvio"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestJoinInnerDropsUnmatchedPrimary(t *testing.T) {
	dir := t.TempDir()
	in := JoinInput{
		Primary:      writeFile(t, dir, "primary.csv", "p1,A,causes,B\np2,C,treats,D\n"),
		PrimaryKey:   "0",
		Auxiliary:    writeFile(t, dir, "aux.csv", "p1,0.9,neg=false\n"),
		AuxiliaryKey: "0",
		Output:       filepath.Join(dir, "joined.csv"),
		CSV:          csvio.DefaultOptions(),
	}

	stats, err := Join(context.Background(), in)
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	if got := readFile(t, in.Output); got != "p1,A,causes,B,0.9,neg=false\n" {
		t.Fatalf("output = %q", got)
	}
	if stats.PrimaryRows != 2 || stats.Matched != 1 || stats.Dropped != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestJoinLeftKeepsUnmatchedPrimary(t *testing.T) {
	dir := t.TempDir()
	in := JoinInput{
		Primary:      writeFile(t, dir, "primary.csv", "p1,A,causes,B\np2,C,treats,D\n"),
		PrimaryKey:   "0",
		Auxiliary:    writeFile(t, dir, "aux.csv", "p1,0.9,neg=false\n"),
		AuxiliaryKey: "0",
		Output:       filepath.Join(dir, "joined.csv"),
		Mode:         JoinLeft,
		CSV:          csvio.DefaultOptions(),
	}

	stats, err := Join(context.Background(), in)
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	want := "p1,A,causes,B,0.9,neg=false\np2,C,treats,D,,\n"
	if got := readFile(t, in.Output); got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
	if stats.Unmatched != 1 || stats.Dropped != 0 || stats.OutputRows != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestJoinResolvesKeysByNameAndGeneratesHeader(t *testing.T) {
	dir := t.TempDir()
	in := JoinInput{
		Primary:         writeFile(t, dir, "pred.csv", "A,p1,B\nC,p2,D\n"),
		PrimaryHeader:   writeFile(t, dir, "pred.header", ":START_ID,PREDICATION_ID,:END_ID\n"),
		PrimaryKey:      "PREDICATION_ID",
		Auxiliary:       writeFile(t, dir, "aux.csv", "0.5,p2\n0.7,p1\n"),
		AuxiliaryHeader: writeFile(t, dir, "aux.header", "score:float,PREDICATION_ID\n"),
		AuxiliaryKey:    "PREDICATION_ID",
		Output:          filepath.Join(dir, "joined.csv"),
		OutputHeader:    filepath.Join(dir, "joined.header"),
		CSV:             csvio.DefaultOptions(),
	}

	stats, err := Join(context.Background(), in)
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if !stats.HeaderGenerated {
		t.Fatalf("header not generated")
	}
	if got := readFile(t, in.Output); got != "A,p1,B,0.7\nC,p2,D,0.5\n" {
		t.Fatalf("output = %q", got)
	}
	if got := readFile(t, in.OutputHeader); got != ":START_ID,PREDICATION_ID,:END_ID,score:float\n" {
		t.Fatalf("header = %q", got)
	}
}

func TestJoinRejectsMisalignedExistingHeader(t *testing.T) {
	dir := t.TempDir()
	in := JoinInput{
		Primary:      writeFile(t, dir, "primary.csv", "p1,A\n"),
		PrimaryKey:   "0",
		Auxiliary:    writeFile(t, dir, "aux.csv", "p1,0.9\n"),
		AuxiliaryKey: "0",
		Output:       filepath.Join(dir, "joined.csv"),
		OutputHeader: writeFile(t, dir, "joined.header", "id,name\n"),
		CSV:          csvio.DefaultOptions(),
	}

	_, err := Join(context.Background(), in)
	if !errors.Is(err, kgload.ErrHeaderMismatch) {
		t.Fatalf("Join() error = %v, want ErrHeaderMismatch", err)
	}
	if _, statErr := os.Stat(in.Output); !os.IsNotExist(statErr) {
		t.Fatalf("output written despite header mismatch")
	}
}

func TestJoinMalformedRowTolerance(t *testing.T) {
	dir := t.TempDir()
	primary := writeFile(t, dir, "primary.csv", "p1,A,B\np2,broken\np3,E,F\n")
	aux := writeFile(t, dir, "aux.csv", "p1,x\np3,y\n")

	base := JoinInput{Primary: primary, PrimaryKey: "0", Auxiliary: aux, AuxiliaryKey: "0", CSV: csvio.DefaultOptions()}

	strict := base
	strict.Output = filepath.Join(dir, "strict.csv")
	_, err := Join(context.Background(), strict)
	var bad *kgload.MalformedRowError
	if !errors.As(err, &bad) {
		t.Fatalf("Join() error = %v, want MalformedRowError", err)
	}
	if bad.Line != 2 || kgload.StageOf(err) != kgload.StageJoin {
		t.Fatalf("bad row line = %d stage = %q", bad.Line, kgload.StageOf(err))
	}

	lenient := base
	lenient.Output = filepath.Join(dir, "lenient.csv")
	lenient.Tolerance = 5
	stats, err := Join(context.Background(), lenient)
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if stats.BadPrimaryRows != 1 || stats.OutputRows != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestJoinMissingInputWritesNothing(t *testing.T) {
	dir := t.TempDir()
	in := JoinInput{
		Primary:      writeFile(t, dir, "primary.csv", "p1,A\n"),
		PrimaryKey:   "0",
		Auxiliary:    filepath.Join(dir, "absent.csv"),
		AuxiliaryKey: "0",
		Output:       filepath.Join(dir, "joined.csv"),
		CSV:          csvio.DefaultOptions(),
	}

	_, err := Join(context.Background(), in)
	if kgload.ExitCode(err) != kgload.ExitMissingInput {
		t.Fatalf("Join() error = %v, want missing input", err)
	}
	if _, statErr := os.Stat(in.Output); !os.IsNotExist(statErr) {
		t.Fatalf("output created for missing input")
	}
}

func TestJoinParallelIsByteIdenticalToSerial(t *testing.T) {
	dir := t.TempDir()
	var primary, aux strings.Builder
	for i := 0; i < 10000; i++ {
		fmt.Fprintf(&primary, "p%d,S%d,rel,O%d\n", i, i, i)
		if i%3 != 0 {
			fmt.Fprintf(&aux, "p%d,%d.5\n", i, i)
		}
	}
	base := JoinInput{
		Primary:      writeFile(t, dir, "primary.csv", primary.String()),
		PrimaryKey:   "0",
		Auxiliary:    writeFile(t, dir, "aux.csv", aux.String()),
		AuxiliaryKey: "0",
		CSV:          csvio.DefaultOptions(),
	}

	var outputs [][]byte
	for i, workers := range []int{1, 4, 4} {
		in := base
		in.Workers = workers
		in.Output = filepath.Join(dir, fmt.Sprintf("out-%d.csv", i))
		if _, err := Join(context.Background(), in); err != nil {
			t.Fatalf("Join(workers=%d) error = %v", workers, err)
		}
		outputs = append(outputs, []byte(readFile(t, in.Output)))
	}

	for i := 1; i < len(outputs); i++ {
		if !bytes.Equal(outputs[0], outputs[i]) {
			t.Fatalf("output %d differs from serial output", i)
		}
	}
}

func TestJoinParallelFailureReportsConsistentCounts(t *testing.T) {
	dir := t.TempDir()
	var primary, aux strings.Builder
	for i := 0; i < 12000; i++ {
		if i == 9000 {
			primary.WriteString("broken\n")
			continue
		}
		fmt.Fprintf(&primary, "p%d,S%d,rel,O%d\n", i, i, i)
		if i%2 == 0 {
			fmt.Fprintf(&aux, "p%d,%d.5\n", i, i)
		}
	}
	primaryPath := writeFile(t, dir, "primary.csv", primary.String())
	auxPath := writeFile(t, dir, "aux.csv", aux.String())

	for _, mode := range []string{JoinInner, JoinLeft} {
		in := JoinInput{
			Primary:      primaryPath,
			PrimaryKey:   "0",
			Auxiliary:    auxPath,
			AuxiliaryKey: "0",
			Output:       filepath.Join(dir, mode+".csv"),
			Mode:         mode,
			Workers:      4,
			CSV:          csvio.DefaultOptions(),
		}

		stats, err := Join(context.Background(), in)
		var bad *kgload.MalformedRowError
		if !errors.As(err, &bad) {
			t.Fatalf("Join(%s) error = %v, want MalformedRowError", mode, err)
		}
		if stats.Matched < 0 || stats.Unmatched < 0 {
			t.Fatalf("Join(%s) negative counts: %+v", mode, stats)
		}
		if stats.Matched+stats.Unmatched != stats.PrimaryRows {
			t.Fatalf("Join(%s) matched %d + unmatched %d != primary rows %d",
				mode, stats.Matched, stats.Unmatched, stats.PrimaryRows)
		}
		if stats.PrimaryRows > 9000 {
			t.Fatalf("Join(%s) primary rows = %d, counted past the bad row", mode, stats.PrimaryRows)
		}
		if stats.OutputRows+stats.Dropped != stats.PrimaryRows {
			t.Fatalf("Join(%s) stats = %+v", mode, stats)
		}
		if _, statErr := os.Stat(in.Output); !os.IsNotExist(statErr) {
			t.Fatalf("Join(%s) left partial output", mode)
		}
	}
}

func TestJoinDuplicateAuxiliaryKeyLastRowWins(t *testing.T) {
	dir := t.TempDir()
	in := JoinInput{
		Primary:      writeFile(t, dir, "primary.csv", "p1,A,causes,B\n"),
		PrimaryKey:   "0",
		Auxiliary:    writeFile(t, dir, "aux.csv", "p1,0.1\np1,0.9\n"),
		AuxiliaryKey: "0",
		Output:       filepath.Join(dir, "joined.csv"),
		CSV:          csvio.DefaultOptions(),
	}

	stats, err := Join(context.Background(), in)
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if got := readFile(t, in.Output); got != "p1,A,causes,B,0.9\n" {
		t.Fatalf("output = %q", got)
	}
	if stats.AuxiliaryDuplicates != 1 {
		t.Fatalf("AuxiliaryDuplicates = %d, want 1", stats.AuxiliaryDuplicates)
	}
}
