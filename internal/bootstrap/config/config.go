package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/csvio"
	"kgload/internal/infrastructure/events"
	"kgload/internal/infrastructure/graphdb"
	"kgload/internal/infrastructure/lifecycle"
	"kgload/internal/infrastructure/neo4jadmin"
)

// DefaultFile is used when --config is not given. Its absence is not an
// error; defaults and KGLOAD_* variables apply.
const DefaultFile = "configs/config.yaml"

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Transform TransformConfig `mapstructure:"transform"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Import    ImportConfig    `mapstructure:"import"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Health    HealthConfig    `mapstructure:"health"`
	Verify    VerifyConfig    `mapstructure:"verify"`
	Bolt      BoltConfig      `mapstructure:"bolt"`
	Events    EventsConfig    `mapstructure:"events"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type TransformConfig struct {
	Delimiter   string `mapstructure:"delimiter"`
	Encoding    string `mapstructure:"encoding"`
	Compression string `mapstructure:"compression"`

	// Tolerance is the malformed-row budget per stage. 0 fails on the first
	// bad row, negative never fails.
	Tolerance   int64         `mapstructure:"tolerance"`
	Workers     int           `mapstructure:"workers"`
	Incremental bool          `mapstructure:"incremental"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type AdminConfig struct {
	Dialect   int           `mapstructure:"dialect"`
	Program   string        `mapstructure:"program"`
	Prefix    []string      `mapstructure:"prefix"`
	Timeout   time.Duration `mapstructure:"timeout"`
	HostDir   string        `mapstructure:"host_dir"`
	ImportDir string        `mapstructure:"import_dir"`
}

type ImportConfig struct {
	Database             string   `mapstructure:"database"`
	Delimiter            string   `mapstructure:"delimiter"`
	ArrayDelimiter       string   `mapstructure:"array_delimiter"`
	IDType               string   `mapstructure:"id_type"`
	SkipDuplicateNodes   bool     `mapstructure:"skip_duplicate_nodes"`
	SkipBadRelationships bool     `mapstructure:"skip_bad_relationships"`
	BadTolerance         int64    `mapstructure:"bad_tolerance"`
	Overwrite            bool     `mapstructure:"overwrite"`
	Threads              int      `mapstructure:"threads"`
	Verbose              bool     `mapstructure:"verbose"`
	HighIO               bool     `mapstructure:"high_io"`
	ReportFile           string   `mapstructure:"report_file"`
	ExtraArgs            []string `mapstructure:"extra_args"`
}

type LifecycleConfig struct {
	Kind           string        `mapstructure:"kind"`
	Container      string        `mapstructure:"container"`
	ComposeFile    string        `mapstructure:"compose_file"`
	Service        string        `mapstructure:"service"`
	Namespace      string        `mapstructure:"namespace"`
	StatefulSet    string        `mapstructure:"statefulset"`
	Replicas       int32         `mapstructure:"replicas"`
	Kubeconfig     string        `mapstructure:"kubeconfig"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

type HealthConfig struct {
	URL      string        `mapstructure:"url"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type VerifyConfig struct {
	StoreDir          string `mapstructure:"store_dir"`
	NodeStore         string `mapstructure:"node_store"`
	RelationshipStore string `mapstructure:"relationship_store"`
	QueryCounts       bool   `mapstructure:"query_counts"`
}

type BoltConfig struct {
	URI            string        `mapstructure:"uri"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type EventsConfig struct {
	NATSURL       string        `mapstructure:"nats_url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("KGLOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case configFile == "" && errors.As(err, &notFound),
			configFile == DefaultFile && errors.Is(err, fs.ErrNotExist):
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		default:
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("lifecycle", cfg.Lifecycle.Kind),
		slog.Int("admin_dialect", cfg.Admin.Dialect),
	)

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "kgload")
	v.SetDefault("app.env", "local")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".kgload/ledger.sqlite")

	v.SetDefault("transform.delimiter", ",")
	v.SetDefault("transform.encoding", csvio.EncodingUTF8)
	v.SetDefault("transform.compression", csvio.CompressionAuto)
	v.SetDefault("transform.tolerance", 0)
	v.SetDefault("transform.workers", 1)
	v.SetDefault("transform.incremental", true)
	v.SetDefault("transform.cache_ttl", "0s")

	v.SetDefault("admin.dialect", neo4jadmin.Dialect5)
	v.SetDefault("admin.program", "neo4j-admin")
	v.SetDefault("admin.prefix", []string{})
	v.SetDefault("admin.timeout", "6h")
	v.SetDefault("admin.host_dir", "")
	v.SetDefault("admin.import_dir", "")

	v.SetDefault("import.database", "neo4j")
	v.SetDefault("import.delimiter", "")
	v.SetDefault("import.array_delimiter", ";")
	v.SetDefault("import.id_type", neo4jadmin.IDTypeString)
	v.SetDefault("import.skip_duplicate_nodes", false)
	v.SetDefault("import.skip_bad_relationships", false)
	v.SetDefault("import.bad_tolerance", 1000)
	v.SetDefault("import.overwrite", false)
	v.SetDefault("import.threads", 0)
	v.SetDefault("import.verbose", false)
	v.SetDefault("import.high_io", false)
	v.SetDefault("import.report_file", "")
	v.SetDefault("import.extra_args", []string{})

	v.SetDefault("lifecycle.kind", lifecycle.KindNone)
	v.SetDefault("lifecycle.container", "")
	v.SetDefault("lifecycle.compose_file", "")
	v.SetDefault("lifecycle.service", "")
	v.SetDefault("lifecycle.statefulset", "")
	v.SetDefault("lifecycle.kubeconfig", "")
	v.SetDefault("lifecycle.namespace", "default")
	v.SetDefault("lifecycle.replicas", 1)
	v.SetDefault("lifecycle.command_timeout", "5m")

	v.SetDefault("health.url", "")
	v.SetDefault("health.interval", lifecycle.DefaultHealthInterval.String())
	v.SetDefault("health.timeout", lifecycle.DefaultHealthTimeout.String())

	v.SetDefault("verify.store_dir", "")
	v.SetDefault("verify.node_store", neo4jadmin.DefaultNodeStore)
	v.SetDefault("verify.relationship_store", neo4jadmin.DefaultRelationshipStore)
	v.SetDefault("verify.query_counts", false)

	v.SetDefault("bolt.uri", "")
	v.SetDefault("bolt.username", "neo4j")
	v.SetDefault("bolt.password", "")
	v.SetDefault("bolt.database", "")
	v.SetDefault("bolt.connect_timeout", "10s")

	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", events.DefaultSubjectPrefix)
	v.SetDefault("events.timeout", "5s")
}

// Validate checks values that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	if c.Database.DSN == "" {
		return invalid("database.dsn is required")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level: %v", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return invalid("log.format must be text or json, got %q", c.Log.Format)
	}
	if _, err := csvio.ParseDelimiter(c.Transform.Delimiter); err != nil {
		return errs.Wrap(err, "transform.delimiter")
	}
	switch strings.ToLower(c.Transform.Encoding) {
	case "", csvio.EncodingUTF8, "utf8", csvio.EncodingLatin1, "iso-8859-1":
	default:
		return invalid("transform.encoding must be utf-8 or latin1, got %q", c.Transform.Encoding)
	}
	switch strings.ToLower(c.Transform.Compression) {
	case "", csvio.CompressionAuto, csvio.CompressionNone, csvio.CompressionGzip, csvio.CompressionZstd:
	default:
		return invalid("transform.compression must be auto, none, gzip or zstd, got %q", c.Transform.Compression)
	}
	if c.Admin.Dialect != neo4jadmin.Dialect4 && c.Admin.Dialect != neo4jadmin.Dialect5 {
		return invalid("admin.dialect must be 4 or 5, got %d", c.Admin.Dialect)
	}
	if c.Import.Overwrite && c.Admin.Dialect == neo4jadmin.Dialect4 {
		return invalid("import.overwrite is not supported by the neo4j 4 import command")
	}
	switch strings.ToLower(c.Lifecycle.Kind) {
	case "", lifecycle.KindNone, lifecycle.KindDocker, lifecycle.KindCompose, lifecycle.KindKubernetes:
	default:
		return invalid("lifecycle.kind must be none, docker, compose or kubernetes, got %q", c.Lifecycle.Kind)
	}
	if c.Verify.QueryCounts && c.Bolt.URI == "" {
		return invalid("verify.query_counts needs bolt.uri")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{kgload.ErrInvalidConfig}, args...)...)
}

// CSVOptions returns the reader options for transform inputs.
func (c Config) CSVOptions() csvio.Options {
	opts := csvio.DefaultOptions()
	if d, err := csvio.ParseDelimiter(c.Transform.Delimiter); err == nil {
		opts.Delimiter = d
	}
	if c.Transform.Encoding != "" {
		opts.Encoding = normalizeEncoding(c.Transform.Encoding)
	}
	if c.Transform.Compression != "" {
		opts.Compression = strings.ToLower(c.Transform.Compression)
	}
	return opts
}

func normalizeEncoding(e string) string {
	switch strings.ToLower(e) {
	case csvio.EncodingLatin1, "iso-8859-1":
		return csvio.EncodingLatin1
	default:
		return csvio.EncodingUTF8
	}
}

// AdminOptions returns the neo4j-admin flags. The import delimiter falls back
// to the transform delimiter.
func (c Config) AdminOptions() neo4jadmin.Options {
	delim := c.Import.Delimiter
	if delim == "" {
		if d, err := csvio.ParseDelimiter(c.Transform.Delimiter); err == nil && d != ',' {
			delim = string(d)
		}
	}
	return neo4jadmin.Options{
		Dialect:              c.Admin.Dialect,
		Program:              c.Admin.Program,
		Prefix:               c.Admin.Prefix,
		Database:             c.Import.Database,
		Delimiter:            delim,
		ArrayDelimiter:       c.Import.ArrayDelimiter,
		IDType:               c.Import.IDType,
		SkipDuplicateNodes:   c.Import.SkipDuplicateNodes,
		SkipBadRelationships: c.Import.SkipBadRelationships,
		BadTolerance:         c.Import.BadTolerance,
		Overwrite:            c.Import.Overwrite,
		Threads:              c.Import.Threads,
		Verbose:              c.Import.Verbose,
		HighIO:               c.Import.HighIO,
		ReportFile:           c.Import.ReportFile,
		ExtraArgs:            c.Import.ExtraArgs,
		HostDir:              c.Admin.HostDir,
		ImportDir:            c.Admin.ImportDir,
	}
}

func (c Config) LifecycleSettings() lifecycle.Settings {
	return lifecycle.Settings{
		Kind:           c.Lifecycle.Kind,
		Container:      c.Lifecycle.Container,
		ComposeFile:    c.Lifecycle.ComposeFile,
		Service:        c.Lifecycle.Service,
		Namespace:      c.Lifecycle.Namespace,
		StatefulSet:    c.Lifecycle.StatefulSet,
		Replicas:       c.Lifecycle.Replicas,
		Kubeconfig:     c.Lifecycle.Kubeconfig,
		CommandTimeout: c.Lifecycle.CommandTimeout,
		HealthURL:      c.Health.URL,
		HealthInterval: c.Health.Interval,
	}
}

func (c Config) BoltSettings() graphdb.Settings {
	return graphdb.Settings{
		URI:            c.Bolt.URI,
		Username:       c.Bolt.Username,
		Password:       c.Bolt.Password,
		Database:       c.Bolt.Database,
		ConnectTimeout: c.Bolt.ConnectTimeout,
	}
}

func (c Config) EventSettings() events.Settings {
	return events.Settings{
		URL:           c.Events.NATSURL,
		SubjectPrefix: c.Events.SubjectPrefix,
		Timeout:       c.Events.Timeout,
	}
}
