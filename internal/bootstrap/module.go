package bootstrap

import (
	"context"
	"log/slog"
	"os"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"kgload/internal/bootstrap/config"
	"kgload/internal/bootstrap/database"
	"kgload/internal/bootstrap/logging"
	"kgload/internal/errs"
	cacheinfra "kgload/internal/infrastructure/cache"
	"kgload/internal/infrastructure/command"
	"kgload/internal/infrastructure/events"
	"kgload/internal/infrastructure/graphdb"
	"kgload/internal/infrastructure/lifecycle"
	"kgload/internal/infrastructure/neo4jadmin"
	"kgload/internal/infrastructure/persistence/schema"
	sqliterepo "kgload/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "kgload/internal/infrastructure/persistence/sqlite/uow"
	"kgload/internal/ports"
	"kgload/internal/usecase/pipeline"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewRunRepository,
			fx.As(new(ports.RunRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(
		fx.Annotate(
			cacheinfra.NewSQLiteCache,
			fx.As(new(ports.Cache)),
		),
	),
	fx.Provide(
		fx.Annotate(
			command.NewExecRunner,
			fx.As(new(ports.CommandRunner)),
		),
	),
	fx.Provide(provideLifecycle),
	fx.Provide(provideEvents),
	fx.Provide(provideProbeFactory),
	fx.Provide(provideImporter),
	fx.Provide(provideSettings),
	fx.Provide(providePipeline),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

// provideDatabase opens the ledger and brings its schema up to date, so
// every command can read and write runs without a separate init-db.
func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database, isDebug(cfg))
	if err != nil {
		return nil, err
	}
	if err := schema.Migrate(logCtx, db); err != nil {
		return nil, errs.Wrap(err, "migrate ledger")
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{
		Config: cfg,
		DB:     db,
	}
}

func provideLifecycle(cfg config.Config, runner ports.CommandRunner) ports.Lifecycle {
	settings := cfg.LifecycleSettings()
	return lifecycle.NewLazy(func() (ports.Lifecycle, error) {
		return lifecycle.New(settings, runner, nil)
	})
}

// provideEvents never fails the command: an unreachable broker downgrades to
// a publisher that drops events.
func provideEvents(lc fx.Lifecycle, ctx context.Context, cfg config.Config) ports.RunEventPublisher {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	pub, err := events.New(cfg.EventSettings())
	if err != nil {
		logging.Warn(logCtx, "run events disabled", slog.Any("err", errs.Loggable(err)))
		return events.Noop{}
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return pub.Close()
		},
	})
	return pub
}

func provideProbeFactory(cfg config.Config) pipeline.ProbeFactory {
	if cfg.Bolt.URI == "" {
		return nil
	}
	settings := cfg.BoltSettings()
	return func() (ports.GraphProbe, error) {
		return graphdb.New(settings)
	}
}

func provideImporter(cfg config.Config, runner ports.CommandRunner) pipeline.Importer {
	importer := neo4jadmin.NewImporter(runner, cfg.Admin.Timeout)
	if cfg.Import.Verbose {
		importer = importer.WithOutput(os.Stderr)
	}
	return importer
}

func provideSettings(cfg config.Config) pipeline.Settings {
	return pipeline.Settings{
		CSV:               cfg.CSVOptions(),
		Tolerance:         cfg.Transform.Tolerance,
		Workers:           cfg.Transform.Workers,
		Incremental:       cfg.Transform.Incremental,
		CacheTTL:          cfg.Transform.CacheTTL,
		Admin:             cfg.AdminOptions(),
		HealthTimeout:     cfg.Health.Timeout,
		StoreDir:          cfg.Verify.StoreDir,
		NodeStore:         cfg.Verify.NodeStore,
		RelationshipStore: cfg.Verify.RelationshipStore,
		QueryCounts:       cfg.Verify.QueryCounts,
	}
}

type pipelineParams struct {
	fx.In

	Runs      ports.RunRepository
	UoW       ports.UnitOfWork
	Cache     ports.Cache
	Lifecycle ports.Lifecycle
	Importer  pipeline.Importer
	Probe     pipeline.ProbeFactory
	Events    ports.RunEventPublisher
	Settings  pipeline.Settings
}

func providePipeline(p pipelineParams) *pipeline.Service {
	return pipeline.NewService(pipeline.Deps{
		Runs:      p.Runs,
		UoW:       p.UoW,
		Cache:     p.Cache,
		Lifecycle: p.Lifecycle,
		Importer:  p.Importer,
		Probe:     p.Probe,
		Events:    p.Events,
	}, p.Settings)
}
