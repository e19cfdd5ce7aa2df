package ports

import (
	"context"
	"io"
	"time"
)

type Command struct {
	Program string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
	// Tee receives the combined output while the command runs.
	Tee io.Writer
}

type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Output is stdout followed by stderr.
func (r CommandResult) Output() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

// CommandRunner runs external programs. A non-zero exit is reported through
// CommandResult.ExitCode; err is for commands that could not run at all.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (CommandResult, error)
}
