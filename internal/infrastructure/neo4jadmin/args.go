package neo4jadmin

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	Dialect5 = 5
	Dialect4 = 4

	IDTypeString  = "string"
	IDTypeInteger = "integer"
	IDTypeActual  = "actual"
)

// Group is one --nodes or --relationships argument: an optional label or
// type, a header file and the data files that share it.
type Group struct {
	Label  string   `toml:"label" yaml:"label" json:"label,omitempty"`
	Header string   `toml:"header" yaml:"header" json:"header"`
	Files  []string `toml:"files" yaml:"files" json:"files"`
}

// Paths returns the header followed by the data files.
func (g Group) Paths() []string {
	out := make([]string, 0, len(g.Files)+1)
	if g.Header != "" {
		out = append(out, g.Header)
	}
	return append(out, g.Files...)
}

// Options are the import flags. A negative BadTolerance leaves the flag to the
// neo4j-admin default; every other zero value means "not set".
type Options struct {
	Dialect              int
	Program              string
	Prefix               []string
	Database             string
	Delimiter            string
	ArrayDelimiter       string
	IDType               string
	SkipDuplicateNodes   bool
	SkipBadRelationships bool
	BadTolerance         int64
	Overwrite            bool
	Threads              int
	Verbose              bool
	HighIO               bool
	ReportFile           string
	ExtraArgs            []string
	// HostDir and ImportDir map host paths onto the paths the import command
	// sees, e.g. a bind-mounted import volume in a container.
	HostDir   string
	ImportDir string
}

func (o Options) dialect() int {
	if o.Dialect == Dialect4 {
		return Dialect4
	}
	return Dialect5
}

func (o Options) program() string {
	if strings.TrimSpace(o.Program) == "" {
		return "neo4j-admin"
	}
	return o.Program
}

func (o Options) database() string {
	if strings.TrimSpace(o.Database) == "" {
		return "neo4j"
	}
	return o.Database
}

// Plan is a complete import invocation.
type Plan struct {
	Nodes         []Group
	Relationships []Group
	Options       Options
}

var ErrNoNodes = errors.New("import plan has no node groups")

// Command returns the program and arguments for the plan. With a prefix the
// program is the first prefix element and neo4j-admin becomes an argument.
func (p Plan) Command() (string, []string, error) {
	if len(p.Nodes) == 0 {
		return "", nil, ErrNoNodes
	}
	opts := p.Options
	idType, err := normalizeIDType(opts.IDType, opts.dialect())
	if err != nil {
		return "", nil, err
	}

	var args []string
	if opts.dialect() == Dialect5 {
		args = append(args, "database", "import", "full")
	} else {
		args = append(args, "import", "--database="+opts.database())
	}

	for _, g := range p.Nodes {
		arg, err := opts.groupArg("--nodes", g)
		if err != nil {
			return "", nil, err
		}
		args = append(args, arg)
	}
	for _, g := range p.Relationships {
		arg, err := opts.groupArg("--relationships", g)
		if err != nil {
			return "", nil, err
		}
		args = append(args, arg)
	}

	if opts.Delimiter != "" {
		args = append(args, "--delimiter="+opts.Delimiter)
	}
	if opts.ArrayDelimiter != "" {
		args = append(args, "--array-delimiter="+opts.ArrayDelimiter)
	}
	if idType != "" {
		args = append(args, "--id-type="+idType)
	}
	args = append(args,
		"--skip-duplicate-nodes="+strconv.FormatBool(opts.SkipDuplicateNodes),
		"--skip-bad-relationships="+strconv.FormatBool(opts.SkipBadRelationships),
	)
	if opts.BadTolerance >= 0 {
		args = append(args, "--bad-tolerance="+strconv.FormatInt(opts.BadTolerance, 10))
	}
	if opts.ReportFile != "" {
		args = append(args, "--report-file="+opts.mapPath(opts.ReportFile))
	}

	if opts.dialect() == Dialect5 {
		if opts.Overwrite {
			args = append(args, "--overwrite-destination=true")
		}
		if opts.Threads > 0 {
			args = append(args, "--threads="+strconv.Itoa(opts.Threads))
		}
		if opts.HighIO {
			args = append(args, "--high-parallel-io=on")
		}
		if opts.Verbose {
			args = append(args, "--verbose")
		}
		args = append(args, opts.ExtraArgs...)
		args = append(args, opts.database())
	} else {
		if opts.Overwrite {
			return "", nil, errors.New("overwrite-destination is only supported by the neo4j 5 dialect; clear the database directory instead")
		}
		if opts.Threads > 0 {
			args = append(args, "--processors="+strconv.Itoa(opts.Threads))
		}
		if opts.HighIO {
			args = append(args, "--high-io=true")
		}
		if opts.Verbose {
			args = append(args, "--verbose")
		}
		args = append(args, opts.ExtraArgs...)
	}

	if len(opts.Prefix) > 0 {
		full := append(append([]string{}, opts.Prefix[1:]...), opts.program())
		return opts.Prefix[0], append(full, args...), nil
	}
	return opts.program(), args, nil
}

func (o Options) groupArg(flag string, g Group) (string, error) {
	if strings.TrimSpace(g.Header) == "" && len(g.Files) == 0 {
		return "", fmt.Errorf("%s group %q has no files", flag, g.Label)
	}
	paths := g.Paths()
	mapped := make([]string, 0, len(paths))
	for _, p := range paths {
		mapped = append(mapped, o.mapPath(p))
	}
	value := strings.Join(mapped, ",")
	if g.Label != "" {
		value = g.Label + "=" + value
	}
	return flag + "=" + value, nil
}

func (o Options) mapPath(p string) string {
	if o.HostDir == "" || o.ImportDir == "" {
		return p
	}
	host := strings.TrimSuffix(o.HostDir, "/")
	if p == host || strings.HasPrefix(p, host+"/") {
		return strings.TrimSuffix(o.ImportDir, "/") + p[len(host):]
	}
	return p
}

func normalizeIDType(v string, dialect int) (string, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return "", nil
	case IDTypeString:
		if dialect == Dialect4 {
			return "STRING", nil
		}
		return IDTypeString, nil
	case IDTypeInteger:
		if dialect == Dialect4 {
			return "INTEGER", nil
		}
		return IDTypeInteger, nil
	case IDTypeActual:
		if dialect == Dialect4 {
			return "ACTUAL", nil
		}
		return IDTypeActual, nil
	default:
		return "", fmt.Errorf("unknown id type %q, must be string, integer or actual", v)
	}
}
