// Package neo4jadmintest provides a stand-in for the neo4j-admin binary that
// reads the import files, applies the bad-tolerance rule and writes store
// files whose size reflects what was imported.
package neo4jadmintest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"kgload/internal/domain/kgload"
	"kgload/internal/infrastructure/csvio"
	"kgload/internal/infrastructure/neo4jadmin"
	"kgload/internal/ports"
)

// Admin implements ports.CommandRunner.
type Admin struct {
	StoreDir string
	// EmptyNodeStore makes a successful import leave a zero-byte node store.
	EmptyNodeStore bool

	mu            sync.Mutex
	calls         [][]string
	nodes         int64
	relationships int64
	bad           int64
}

func (a *Admin) Calls() [][]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]string(nil), a.calls...)
}

// Imported returns the node and relationship counts of the last successful run.
func (a *Admin) Imported() (nodes, relationships, bad int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nodes, a.relationships, a.bad
}

type invocation struct {
	nodes         []string
	relationships []string
	delimiter     rune
	tolerance     int64
	skipBadRels   bool
}

func (a *Admin) Run(ctx context.Context, cmd ports.Command) (ports.CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.CommandResult{}, err
	}
	a.mu.Lock()
	a.calls = append(a.calls, append([]string{cmd.Program}, cmd.Args...))
	a.mu.Unlock()

	inv := parse(cmd.Args)
	nodes, rels, bad, err := a.load(inv)
	if err != nil {
		return ports.CommandResult{ExitCode: 1, Stderr: err.Error()}, nil
	}
	if bad > inv.tolerance {
		return ports.CommandResult{
			ExitCode: 1,
			Stderr:   fmt.Sprintf("Import error: too many bad entries %d, where last one was ... (bad tolerance %d)", bad, inv.tolerance),
		}, nil
	}

	nodeBytes := strings.Repeat("n", int(nodes))
	if a.EmptyNodeStore {
		nodeBytes = ""
	}
	if err := os.MkdirAll(a.StoreDir, 0o755); err != nil {
		return ports.CommandResult{}, err
	}
	if err := os.WriteFile(filepath.Join(a.StoreDir, neo4jadmin.DefaultNodeStore), []byte(nodeBytes), 0o644); err != nil {
		return ports.CommandResult{}, err
	}
	if err := os.WriteFile(filepath.Join(a.StoreDir, neo4jadmin.DefaultRelationshipStore), []byte(strings.Repeat("r", int(rels))), 0o644); err != nil {
		return ports.CommandResult{}, err
	}

	a.mu.Lock()
	a.nodes, a.relationships, a.bad = nodes, rels, bad
	a.mu.Unlock()
	return ports.CommandResult{
		Stdout: fmt.Sprintf("IMPORT DONE. Imported: %d nodes %d relationships", nodes, rels),
	}, nil
}

func parse(args []string) invocation {
	inv := invocation{delimiter: ',', tolerance: 1000}
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			continue
		}
		switch name {
		case "--nodes":
			inv.nodes = append(inv.nodes, value)
		case "--relationships":
			inv.relationships = append(inv.relationships, value)
		case "--delimiter":
			if value != "" {
				inv.delimiter = []rune(value)[0]
			}
		case "--bad-tolerance":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				inv.tolerance = n
			}
		case "--skip-bad-relationships":
			inv.skipBadRels = value == "true"
		}
	}
	return inv
}

func groupFiles(value string) []string {
	// "Label=header,data" or "header,data"
	if label, rest, ok := strings.Cut(value, "="); ok && !strings.ContainsAny(label, "/,") {
		value = rest
	}
	return strings.Split(value, ",")
}

func (a *Admin) load(inv invocation) (nodes, rels, bad int64, err error) {
	opts := csvio.DefaultOptions()
	opts.Delimiter = inv.delimiter

	ids := make(map[string]struct{})
	for _, g := range inv.nodes {
		err := eachRow(groupFiles(g), opts, func(schema *kgload.Schema, row []string) {
			if len(row) != schema.Len() {
				bad++
				return
			}
			idCol := columnOfType(schema, "ID")
			if idCol >= 0 {
				if _, dup := ids[row[idCol]]; dup {
					bad++
					return
				}
				ids[row[idCol]] = struct{}{}
			}
			nodes++
		})
		if err != nil {
			return 0, 0, 0, err
		}
	}

	for _, g := range inv.relationships {
		err := eachRow(groupFiles(g), opts, func(schema *kgload.Schema, row []string) {
			if len(row) != schema.Len() {
				bad++
				return
			}
			start, end := columnOfType(schema, "START_ID"), columnOfType(schema, "END_ID")
			if start < 0 || end < 0 {
				bad++
				return
			}
			_, okStart := ids[row[start]]
			_, okEnd := ids[row[end]]
			if !okStart || !okEnd {
				if !inv.skipBadRels {
					bad++
				}
				return
			}
			rels++
		})
		if err != nil {
			return 0, 0, 0, err
		}
	}
	return nodes, rels, bad, nil
}

func eachRow(paths []string, opts csvio.Options, fn func(*kgload.Schema, []string)) error {
	if len(paths) < 2 {
		return fmt.Errorf("group needs a header and at least one data file: %v", paths)
	}
	schema, err := csvio.ReadSchema(paths[0], opts)
	if err != nil {
		return err
	}
	for _, p := range paths[1:] {
		r, err := csvio.Open(p, "import", opts)
		if err != nil {
			return err
		}
		for {
			row, err := r.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				continue
			}
			fn(schema, row)
		}
		_ = r.Close()
	}
	return nil
}

func columnOfType(schema *kgload.Schema, typ string) int {
	for i, c := range schema.Columns {
		if c.Type == typ {
			return i
		}
	}
	return -1
}
