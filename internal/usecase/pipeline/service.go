// Package pipeline runs a manifest end to end: preflight, transforms, the
// offline import between a service stop and start, verification and the
// post-import schema. Every run and stage is written to the run ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/csvio"
	"kgload/internal/infrastructure/neo4jadmin"
	"kgload/internal/ports"
)

var (
	errContextRequired  = errors.New("context is required")
	errManifestRequired = errors.New("manifest path is required")
	errNoProbe          = errors.New("bolt is not configured")
	errNoVerification   = fmt.Errorf("%w: set verify.store_dir or verify.query_counts, or pass --skip-verify", kgload.ErrInvalidConfig)
)

// Importer runs a bulk import plan against the stopped database.
type Importer interface {
	Import(ctx context.Context, plan neo4jadmin.Plan) (neo4jadmin.Result, error)
}

// ProbeFactory opens a Bolt session lazily; most runs never need one.
type ProbeFactory func() (ports.GraphProbe, error)

type Settings struct {
	CSV         csvio.Options
	Tolerance   int64
	Workers     int
	Incremental bool
	CacheTTL    time.Duration

	Admin         neo4jadmin.Options
	HealthTimeout time.Duration

	StoreDir          string
	NodeStore         string
	RelationshipStore string
	QueryCounts       bool
}

type Deps struct {
	Runs      ports.RunRepository
	UoW       ports.UnitOfWork
	Cache     ports.Cache
	Lifecycle ports.Lifecycle
	Importer  Importer
	Probe     ProbeFactory
	Events    ports.RunEventPublisher
}

type Service struct {
	runs      ports.RunRepository
	uow       ports.UnitOfWork
	cache     ports.Cache
	lifecycle ports.Lifecycle
	importer  Importer
	probe     ProbeFactory
	events    ports.RunEventPublisher
	settings  Settings

	now   func() time.Time
	newID func() string
}

// NewService wires the pipeline with its adapters. Cache, Probe and Events
// are optional.
func NewService(deps Deps, settings Settings) *Service {
	return &Service{
		runs:      deps.Runs,
		uow:       deps.UoW,
		cache:     deps.Cache,
		lifecycle: deps.Lifecycle,
		importer:  deps.Importer,
		probe:     deps.Probe,
		events:    deps.Events,
		settings:  settings,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Settings returns the settings the service was built with.
func (s *Service) Settings() Settings {
	return s.settings
}

// record writes to the run ledger. A failed ledger write never fails the run.
func (s *Service) record(ctx context.Context, op string, fn func(ctx context.Context) error) {
	if s.runs == nil {
		return
	}
	var err error
	if s.uow != nil {
		err = s.uow.WithTx(ctx, fn)
	} else {
		err = fn(ctx)
	}
	if err != nil {
		logging.Warn(ctx, "run ledger write failed", slog.String("op", op), slog.Any("err", errs.Loggable(err)))
	}
}

func (s *Service) publish(ctx context.Context, ev ports.RunEvent) {
	if s.events == nil {
		return
	}
	ev.At = s.now()
	if err := s.events.Publish(ctx, ev); err != nil {
		logging.Warn(ctx, "publish run event failed", slog.String("type", ev.Type), slog.Any("err", errs.Loggable(err)))
	}
}
