package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"kgload/internal/ports"
)

const defaultTimeout = 6 * time.Hour

// ExecRunner runs commands through os/exec and captures their output.
type ExecRunner struct{}

func NewExecRunner() ExecRunner { return ExecRunner{} }

func (ExecRunner) Run(ctx context.Context, c ports.Command) (ports.CommandResult, error) {
	var res ports.CommandResult
	if strings.TrimSpace(c.Program) == "" {
		return res, errors.New("command program is empty")
	}

	runCtx, cancel := withTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.Program, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if c.Tee != nil {
		tee := &lockedWriter{w: c.Tee}
		cmd.Stdout = io.MultiWriter(&stdout, tee)
		cmd.Stderr = io.MultiWriter(&stderr, tee)
	}

	start := time.Now()
	runErr := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = strings.TrimSpace(stdout.String())
	res.Stderr = strings.TrimSpace(stderr.String())

	if runErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("%s timed out after %s", c.Program, res.Duration.Round(time.Second))
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if runErr != nil {
		return res, fmt.Errorf("run %s: %w", c.Program, runErr)
	}
	return res, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// lockedWriter serialises the stdout and stderr copy goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
