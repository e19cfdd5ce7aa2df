// Package watch waits for input files produced by another process, such as
// a download sidecar, before the pipeline starts.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
)

type Target struct {
	Role string
	Path string
}

type Options struct {
	// Timeout bounds the whole wait. Zero waits until ctx is done.
	Timeout time.Duration
	// Settle is how long every target must go without a write before the
	// wait returns. Zero returns as soon as all targets exist.
	Settle time.Duration
}

// WaitForFiles blocks until every target exists (and has settled). On
// timeout it returns kgload.MissingInputs naming the files still absent.
func WaitForFiles(ctx context.Context, targets []Target, opts Options) error {
	ctx = logging.WithAttrs(ctx, slog.String("component", "watch"), slog.String("stage", kgload.StagePreflight))
	if len(pending(targets)) == 0 && opts.Settle <= 0 {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(err, "create file watcher")
	}
	defer w.Close()

	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		t := time.NewTimer(opts.Timeout)
		defer t.Stop()
		deadline = t.C
	}

	watched := map[string]bool{}
	byPath := map[string]bool{}
	for _, t := range targets {
		byPath[filepath.Clean(t.Path)] = true
	}

	var settle *time.Timer
	var settleC <-chan time.Time
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	for {
		missing := pending(targets)
		added := false
		for _, t := range missing {
			dir := nearestDir(filepath.Dir(t.Path))
			if watched[dir] {
				continue
			}
			if err := w.Add(dir); err != nil {
				return errs.Wrapf(err, "watch %s", dir)
			}
			watched[dir] = true
			added = true
			logging.Debug(ctx, "watching directory", slog.String("dir", dir))
		}
		// a file may have appeared before its directory was watched
		if added && len(pending(targets)) < len(missing) {
			continue
		}
		if len(missing) == 0 {
			if opts.Settle <= 0 {
				logging.Info(ctx, "all inputs present", slog.Int("files", len(targets)))
				return nil
			}
			if settle == nil {
				for _, t := range targets {
					dir := filepath.Dir(t.Path)
					if !watched[dir] {
						if err := w.Add(dir); err != nil {
							return errs.Wrapf(err, "watch %s", dir)
						}
						watched[dir] = true
					}
				}
				settle = time.NewTimer(opts.Settle)
				settleC = settle.C
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			var out kgload.MissingInputs
			for _, t := range pending(targets) {
				out = append(out, &kgload.MissingInputError{Role: t.Role, Path: t.Path})
			}
			if len(out) == 0 {
				// present but still being written when time ran out
				return nil
			}
			return out
		case <-settleC:
			logging.Info(ctx, "all inputs present and settled", slog.Int("files", len(targets)))
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("file watcher closed")
			}
			return errs.Wrap(err, "file watcher")
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("file watcher closed")
			}
			if settle != nil && byPath[filepath.Clean(ev.Name)] && ev.Has(fsnotify.Write) {
				settle.Reset(opts.Settle)
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				delete(watched, filepath.Clean(ev.Name))
			}
		}
	}
}

func pending(targets []Target) []Target {
	var out []Target
	for _, t := range targets {
		if t.Path == "" {
			continue
		}
		if info, err := os.Stat(t.Path); err != nil || info.IsDir() {
			out = append(out, t)
		}
	}
	return out
}

// nearestDir returns dir or its closest existing ancestor.
func nearestDir(dir string) string {
	dir = filepath.Clean(dir)
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
