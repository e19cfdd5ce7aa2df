// Package events publishes run lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/errs"
	"kgload/internal/ports"
)

const DefaultSubjectPrefix = "kgload.runs"

type Settings struct {
	URL           string
	SubjectPrefix string
	Timeout       time.Duration
}

type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// NATSPublisher sends each event as JSON to <prefix>.<dataset>.<type>.
type NATSPublisher struct {
	conn   conn
	prefix string
}

var _ ports.RunEventPublisher = (*NATSPublisher)(nil)

func NewNATSPublisher(s Settings) (*NATSPublisher, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	nc, err := nats.Connect(s.URL, nats.Name("kgload"), nats.Timeout(timeout))
	if err != nil {
		return nil, errs.Wrapf(err, "connect nats %s", s.URL)
	}
	return newPublisher(nc, s.SubjectPrefix), nil
}

func newPublisher(c conn, prefix string) *NATSPublisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: c, prefix: prefix}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(ev ports.RunEvent) string {
	dataset := subjectToken(ev.Dataset)
	if dataset == "" {
		dataset = "default"
	}
	return fmt.Sprintf("%s.%s.%s", p.prefix, dataset, ev.Type)
}

func (p *NATSPublisher) Publish(ctx context.Context, ev ports.RunEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return errs.Wrap(err, "encode run event")
	}
	subject := p.Subject(ev)
	if err := p.conn.Publish(subject, data); err != nil {
		return errs.Wrapf(err, "publish %s", subject)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return errs.Wrapf(err, "flush %s", subject)
	}
	logging.Debug(ctx, "run event published", slog.String("subject", subject))
	return nil
}

func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// subjectToken keeps a dataset name inside a single subject token.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, ports.RunEvent) error { return nil }
func (Noop) Close() error { return nil }

// New returns a NATS publisher when a URL is configured, Noop otherwise.
func New(s Settings) (ports.RunEventPublisher, error) {
	if strings.TrimSpace(s.URL) == "" {
		return Noop{}, nil
	}
	return NewNATSPublisher(s)
}
