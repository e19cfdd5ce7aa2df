package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kgload/internal/domain/kgload"
	"kgload/internal/ports"
)

// Lazy defers building the controller until the first call, so commands that
// never touch the service do not fail on incomplete lifecycle settings.
type Lazy struct {
	build func() (ports.Lifecycle, error)

	once sync.Once
	ctrl ports.Lifecycle
	err  error
}

var _ ports.Lifecycle = (*Lazy)(nil)

func NewLazy(build func() (ports.Lifecycle, error)) *Lazy {
	return &Lazy{build: build}
}

func (l *Lazy) controller() (ports.Lifecycle, error) {
	l.once.Do(func() {
		l.ctrl, l.err = l.build()
		if l.err != nil {
			l.err = fmt.Errorf("%w: %v", kgload.ErrInvalidConfig, l.err)
		}
	})
	return l.ctrl, l.err
}

func (l *Lazy) Stop(ctx context.Context) error {
	c, err := l.controller()
	if err != nil {
		return err
	}
	return c.Stop(ctx)
}

func (l *Lazy) Start(ctx context.Context) error {
	c, err := l.controller()
	if err != nil {
		return err
	}
	return c.Start(ctx)
}

func (l *Lazy) WaitHealthy(ctx context.Context, timeout time.Duration) error {
	c, err := l.controller()
	if err != nil {
		return err
	}
	return c.WaitHealthy(ctx, timeout)
}
