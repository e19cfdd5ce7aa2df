package graphdb

import (
	"bufio"
	"os"
	"strings"

	"kgload/internal/errs"
)

// SplitStatements splits a Cypher script on semicolons that end a line.
// Blank lines and `//` comment lines are dropped.
func SplitStatements(script string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	sc := bufio.NewScanner(strings.NewReader(script))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if strings.HasSuffix(line, ";") {
			cur.WriteString(strings.TrimSuffix(line, ";"))
			flush()
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	flush()
	return out
}

// LoadStatements reads a Cypher script from disk.
func LoadStatements(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrapf(err, "read schema script %s", path)
	}
	return SplitStatements(string(data)), nil
}
