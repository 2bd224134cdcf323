package main

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/csarrepo/csarrepo/internal/app/migrate"
	"github.com/csarrepo/csarrepo/internal/repository"
	"github.com/csarrepo/csarrepo/internal/repository/postgres"
	"github.com/csarrepo/csarrepo/internal/repository/sqlite"
	"github.com/csarrepo/csarrepo/pkg/config"
)

// database bundles the repository with the migration runner for the configured driver.
type database struct {
	store    repository.Store
	migrator migrate.Runner
	close    func()
}

func openDatabase(ctx context.Context, cfg config.Config, log *slog.Logger) (*database, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		runner, err := postgres.NewMigrator(cfg.DatabaseURL, log)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("configure migrations: %w", err)
		}
		return &database{
			store:    postgres.New(pool),
			migrator: runner,
			close: func() {
				_ = runner.Close()
				pool.Close()
			},
		}, nil
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		runner, err := sqlite.NewMigrator(db, log)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("configure migrations: %w", err)
		}
		return &database{
			store:    &sqlite.Repository{DB: db},
			migrator: runner,
			close:    func() { _ = db.Close() },
		}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}

// openMigrated opens the database and applies pending migrations.
func openMigrated(ctx context.Context, cfg config.Config, log *slog.Logger) (*database, error) {
	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if err := db.migrator.Ping(ctx); err != nil {
		db.close()
		return nil, err
	}
	if err := db.migrator.Ensure(ctx); err != nil {
		db.close()
		return nil, err
	}
	return db, nil
}
