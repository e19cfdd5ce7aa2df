package kgload

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	ErrColumnNotFound       = errors.New("column not found in header")
	ErrHeaderRequired       = errors.New("header file is required to resolve a column by name")
	ErrInvalidColumnRef     = errors.New("invalid column reference")
	ErrHeaderMismatch       = errors.New("header and data column counts differ")
	ErrConfirmationRequired = errors.New("overwrite-destination requires explicit confirmation")
	ErrEmptyImport          = errors.New("import needs at least one node group")
	ErrInvalidScore         = errors.New("reference score is not numeric")
	ErrInvalidConfig        = errors.New("invalid configuration")
)

// Stage names used in error labels, logs and the run ledger.
const (
	StagePreflight = "preflight"
	StageExtract   = "extract"
	StageKGSplit   = "kgsplit"
	StageKGXMerge  = "kgx_merge"
	StageKGX       = "kgx"
	StageJoin      = "join"
	StageEnrich    = "enrich"
	StageDedupe    = "dedupe"
	StageStop      = "stop"
	StageImport    = "import"
	StageStart     = "start"
	StageHealth    = "health"
	StageVerify    = "verify"
	StageSchema    = "schema"
)

// Exit codes returned by the CLI per error category.
const (
	ExitOK                  = 0
	ExitFailure             = 1
	ExitMissingInput        = 2
	ExitMalformedRows       = 3
	ExitImportFailure       = 4
	ExitVerificationFailure = 5
	ExitStartupTimeout      = 6
	ExitConfiguration       = 7
)

// MissingInputError reports a required input or header file that is absent.
type MissingInputError struct {
	Role string
	Path string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("missing %s file: %s", e.Role, e.Path)
}

func (e *MissingInputError) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("category", "missing_input"),
		slog.String("path", e.Path),
	}
}

// MissingInputs aggregates every absent file found during preflight.
type MissingInputs []*MissingInputError

func (m MissingInputs) Error() string {
	parts := make([]string, 0, len(m))
	for _, e := range m {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

func (m MissingInputs) Unwrap() []error {
	out := make([]error, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	return out
}

// MalformedRowError is returned once the malformed-row tolerance is exceeded.
type MalformedRowError struct {
	File      string
	Line      int64
	Got       int
	Want      int
	Bad       int64
	Tolerance int64
	Cause     error
}

func (e *MalformedRowError) Error() string {
	msg := fmt.Sprintf("%s line %d: ", e.File, e.Line)
	if e.Cause != nil {
		msg += e.Cause.Error()
	} else {
		msg += fmt.Sprintf("got %d fields, want %d", e.Got, e.Want)
	}
	return fmt.Sprintf("%s (bad rows %d, tolerance %d)", msg, e.Bad, e.Tolerance)
}

func (e *MalformedRowError) Unwrap() error { return e.Cause }

func (e *MalformedRowError) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("category", "malformed_row"),
		slog.String("file", e.File),
		slog.Int64("line", e.Line),
		slog.Int64("bad_rows", e.Bad),
	}
}

// ImportFailure means the bulk-import command exited non-zero.
type ImportFailure struct {
	ExitCode int
	Output   string
	Err      error
}

func (e *ImportFailure) Error() string {
	msg := fmt.Sprintf("bulk import exited with code %d", e.ExitCode)
	if tail := lastLines(e.Output, 5); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *ImportFailure) Unwrap() error { return e.Err }

func (e *ImportFailure) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("category", "import_failure"),
		slog.Int("exit_code", e.ExitCode),
	}
}

// VerificationFailure means the import reported success but a store artifact
// is missing or empty.
type VerificationFailure struct {
	Artifact string
	Path     string
	Reason   string
}

func (e *VerificationFailure) Error() string {
	return fmt.Sprintf("verification failed for %s (%s): %s", e.Artifact, e.Path, e.Reason)
}

func (e *VerificationFailure) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("category", "verification_failure"),
		slog.String("artifact", e.Artifact),
		slog.String("path", e.Path),
	}
}

// StartupTimeout means the service did not report healthy in time.
type StartupTimeout struct {
	Endpoint string
	Waited   time.Duration
	LastErr  error
}

func (e *StartupTimeout) Error() string {
	msg := fmt.Sprintf("service at %s not healthy after %s", e.Endpoint, e.Waited.Round(time.Millisecond))
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *StartupTimeout) Unwrap() error { return e.LastErr }

func (e *StartupTimeout) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("category", "startup_timeout"),
		slog.String("endpoint", e.Endpoint),
	}
}

// StageError labels an error with the pipeline stage it came from.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) LogAttrs() []slog.Attr {
	return []slog.Attr{slog.String("stage", e.Stage)}
}

// AtStage wraps err with a stage label unless it already carries one.
func AtStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage label of err, or "".
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Category returns a stable category name for the run ledger.
func Category(err error) string {
	if err == nil {
		return ""
	}
	var (
		missing *MissingInputError
		bad     *MalformedRowError
		imp     *ImportFailure
		verify  *VerificationFailure
		startup *StartupTimeout
	)
	switch {
	case errors.As(err, &missing):
		return "missing_input"
	case errors.As(err, &bad):
		return "malformed_row"
	case errors.As(err, &imp):
		return "import_failure"
	case errors.As(err, &verify):
		return "verification_failure"
	case errors.As(err, &startup):
		return "startup_timeout"
	case errors.Is(err, ErrConfirmationRequired), errors.Is(err, ErrHeaderMismatch), errors.Is(err, ErrInvalidConfig):
		return "configuration"
	default:
		return "error"
	}
}

// ExitCode maps err onto the CLI exit code contract.
func ExitCode(err error) int {
	switch Category(err) {
	case "":
		return ExitOK
	case "missing_input":
		return ExitMissingInput
	case "malformed_row":
		return ExitMalformedRows
	case "import_failure":
		return ExitImportFailure
	case "verification_failure":
		return ExitVerificationFailure
	case "startup_timeout":
		return ExitStartupTimeout
	case "configuration":
		return ExitConfiguration
	default:
		return ExitFailure
	}
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}
