package neo4jadmin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/csvio"
	"kgload/internal/ports"
)

type Result struct {
	Program  string
	Args     []string
	ExitCode int
	Output   string
	Duration time.Duration
	Summary  Summary
}

// Importer invokes the bulk import command. The database service must be
// stopped before Import is called.
type Importer struct {
	runner  ports.CommandRunner
	timeout time.Duration
	tee     io.Writer
}

func NewImporter(runner ports.CommandRunner, timeout time.Duration) *Importer {
	return &Importer{runner: runner, timeout: timeout}
}

// WithOutput streams the command output to w while it runs.
func (i *Importer) WithOutput(w io.Writer) *Importer {
	i.tee = w
	return i
}

// CheckOverwrite refuses a destructive import that was not confirmed.
func CheckOverwrite(opts Options, confirmed bool) error {
	if opts.Overwrite && !confirmed {
		return kgload.ErrConfirmationRequired
	}
	return nil
}

// CheckPlan verifies that every header and data file exists and that each
// header has the width of the first row of its data files.
func CheckPlan(plan Plan, opts csvio.Options) error {
	var missing kgload.MissingInputs
	var groups []Group
	groups = append(groups, plan.Nodes...)
	groups = append(groups, plan.Relationships...)

	for _, g := range groups {
		for _, p := range g.Paths() {
			if err := statFile(p); err != nil {
				var mi *kgload.MissingInputError
				if errors.As(err, &mi) {
					missing = append(missing, mi)
					continue
				}
				return err
			}
		}
	}
	if len(missing) > 0 {
		return missing
	}

	for _, g := range groups {
		if g.Header == "" {
			continue
		}
		schema, err := csvio.ReadSchema(g.Header, opts)
		if err != nil {
			return err
		}
		for _, f := range g.Files {
			width, err := firstRowWidth(f, opts)
			if err != nil {
				return err
			}
			if width == 0 {
				continue
			}
			if err := schema.CheckWidth(width); err != nil {
				return errs.Wrapf(err, "data file %s", f)
			}
		}
	}
	return nil
}

func (i *Importer) Import(ctx context.Context, plan Plan) (Result, error) {
	ctx = logging.WithAttrs(ctx, slog.String("component", "neo4jadmin"), slog.String("stage", kgload.StageImport))

	program, args, err := plan.Command()
	if err != nil {
		return Result{}, kgload.AtStage(kgload.StageImport, err)
	}
	res := Result{Program: program, Args: args}

	logging.Info(ctx, "starting bulk import",
		slog.String("program", program),
		slog.String("args", strings.Join(args, " ")),
		slog.Int("node_groups", len(plan.Nodes)),
		slog.Int("relationship_groups", len(plan.Relationships)))

	out, err := i.runner.Run(ctx, ports.Command{
		Program: program,
		Args:    args,
		Timeout: i.timeout,
		Tee:     i.tee,
	})
	res.ExitCode = out.ExitCode
	res.Output = out.Output()
	res.Duration = out.Duration
	res.Summary = ParseSummary(res.Output)
	if err != nil {
		logging.Error(ctx, "bulk import could not run", slog.Any("err", errs.Loggable(err)))
		return res, kgload.AtStage(kgload.StageImport, &kgload.ImportFailure{ExitCode: -1, Output: res.Output, Err: err})
	}
	if out.ExitCode != 0 {
		failure := &kgload.ImportFailure{ExitCode: out.ExitCode, Output: res.Output}
		logging.Error(ctx, "bulk import failed", slog.Any("err", errs.Loggable(failure)))
		return res, kgload.AtStage(kgload.StageImport, failure)
	}

	logging.Info(ctx, "bulk import finished",
		slog.Duration("duration", res.Duration),
		slog.Int64("nodes", res.Summary.Nodes),
		slog.Int64("relationships", res.Summary.Relationships))
	return res, nil
}

func statFile(path string) error {
	r, err := csvio.Open(path, "import", csvio.Options{Compression: csvio.CompressionNone})
	if err != nil {
		return err
	}
	return r.Close()
}

func firstRowWidth(path string, opts csvio.Options) (int, error) {
	r, err := csvio.Open(path, "import", opts)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	row, err := r.Read()
	if errors.Is(err, io.EOF) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read first row of %s: %w", path, err)
	}
	return len(row), nil
}
