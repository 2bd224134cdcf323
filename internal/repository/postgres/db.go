package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/csarrepo/csarrepo/internal/app/migrate"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the embedded schema migrations rooted at their directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Connect opens a pgx pool and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewMigrator opens a database/sql handle on dsn for goose.
// The caller closes the runner when done.
func NewMigrator(dsn string, log *slog.Logger) (migrate.Runner, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return migrate.Runner{}, fmt.Errorf("open sql connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return migrate.Runner{}, fmt.Errorf("ping sql connection: %w", err)
	}
	runner, err := migrate.New(db, goose.DialectPostgres, Migrations(), log)
	if err != nil {
		db.Close()
		return migrate.Runner{}, err
	}
	return runner, nil
}
