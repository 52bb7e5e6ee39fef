package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	_ "github.com/proullon/ramsql/driver"

	"github.com/contentmigrate/migrate-framework/destination"
	"github.com/contentmigrate/migrate-framework/events"
	"github.com/contentmigrate/migrate-framework/executable"
	"github.com/contentmigrate/migrate-framework/idmap"
	"github.com/contentmigrate/migrate-framework/idmap/sqlmap"
	"github.com/contentmigrate/migrate-framework/migration"
	"github.com/contentmigrate/migrate-framework/pkg/config"
	"github.com/contentmigrate/migrate-framework/pkg/logger"
	"github.com/contentmigrate/migrate-framework/runner"
	"github.com/contentmigrate/migrate-framework/source"
)

func init() {
	// ramsql takes postgres style placeholders.
	sqlx.BindDriver(config.DriverRamSQL, sqlx.DOLLAR)
}

// Env is what a command operates on: the loaded configuration and a runner over the
// migrations of the configured directory.
type Env struct {
	Config  *config.Config
	Logger  logger.Logger
	Runner  *runner.Runner
	Metrics *prometheus.Registry

	dbs map[string]*sqlx.DB
}

// LoadEnv opens the databases named by cfg, loads the migration definitions and builds the
// runner. The returned Env must be closed.
func LoadEnv(_ context.Context, cfg *config.Config, lggr logger.Logger, stores Stores) (*Env, error) {
	lvl, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	lggr = logger.WithLevel(lggr, lvl)

	env := &Env{
		Config:  cfg,
		Logger:  lggr,
		Metrics: prometheus.NewRegistry(),
		dbs:     make(map[string]*sqlx.DB),
	}
	if err := env.build(stores); err != nil {
		return nil, errors.Join(err, env.closeDBs())
	}

	return env, nil
}

func (e *Env) build(stores Stores) error {
	cfg := e.Config

	defs, err := migration.LoadDir(cfg.MigrationsDir)
	if err != nil {
		return err
	}

	var idMaps idmap.Factory
	switch cfg.IDMap.Driver {
	case config.DriverMemory:
		idMaps = idmap.NewMemoryFactory()
	default:
		db, err := e.openDB(cfg.IDMap.Driver, cfg.IDMap.DSN)
		if err != nil {
			return fmt.Errorf("failed to open id map database: %w", err)
		}
		idMaps = sqlmap.NewFactory(db.DB, e.Logger)
	}

	sourceDeps := source.Deps{BaseDir: cfg.Source.BaseDir}
	if cfg.Source.Driver != "" {
		if sourceDeps.DB, err = e.openDB(cfg.Source.Driver, cfg.Source.DSN); err != nil {
			return fmt.Errorf("failed to open source database: %w", err)
		}
	}

	destDeps := destination.Deps{Entities: stores.Entities, Configs: destination.NewMemoryConfigStore()}
	if cfg.Destination.ConfigDir != "" {
		if destDeps.Configs, err = destination.NewTOMLConfigStore(cfg.Destination.ConfigDir); err != nil {
			return err
		}
	}
	if cfg.Destination.Driver != "" {
		if destDeps.DB, err = e.openDB(cfg.Destination.Driver, cfg.Destination.DSN); err != nil {
			return fmt.Errorf("failed to open destination database: %w", err)
		}
	}

	manager, err := migration.NewManager(defs, idMaps, e.Logger,
		migration.WithSourceDeps(sourceDeps),
		migration.WithDestinationDeps(destDeps),
	)
	if err != nil {
		return err
	}
	reporter, err := runner.NewFileReporter(cfg.ReportsFile)
	if err != nil {
		return err
	}
	sink := events.Multi(events.NewLoggerSink(e.Logger.Named("events")), events.NewMetricsSink(e.Metrics))

	e.Runner = runner.New(manager, e.Logger,
		runner.WithReporter(reporter),
		runner.WithSink(sink),
		runner.WithConcurrency(cfg.Run.Concurrency),
	)

	return nil
}

// openDB opens a database, reusing the handle of an earlier call with the same driver and dsn.
func (e *Env) openDB(driver, dsn string) (*sqlx.DB, error) {
	key := driver + "|" + dsn
	if db, ok := e.dbs[key]; ok {
		return db, nil
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	e.dbs[key] = db

	return db, nil
}

// ExecOptions returns the executable options set by the configuration.
func (e *Env) ExecOptions() []executable.Option {
	run := e.Config.Run
	opts := []executable.Option{
		executable.WithSourceRetry(source.RetryPolicy{
			MaxAttempts: e.Config.Source.RetryAttempts,
			Delay:       e.Config.Source.RetryDelay,
		}),
	}
	if run.FailureThreshold > 0 {
		opts = append(opts, executable.WithFailureThreshold(run.FailureThreshold))
	}
	if run.Deadline > 0 {
		opts = append(opts, executable.WithDeadline(time.Now().Add(run.Deadline)))
	}

	return opts
}

// Close writes the metrics file, when configured, and closes the databases.
func (e *Env) Close() error {
	var errs []error
	if path := e.Config.MetricsFile; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			errs = append(errs, err)
		} else if err := prometheus.WriteToTextfile(path, e.Metrics); err != nil {
			errs = append(errs, fmt.Errorf("failed to write metrics: %w", err))
		}
	}
	errs = append(errs, e.closeDBs())

	return errors.Join(errs...)
}

func (e *Env) closeDBs() error {
	var errs []error
	for key, db := range e.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(e.dbs, key)
	}

	return errors.Join(errs...)
}
