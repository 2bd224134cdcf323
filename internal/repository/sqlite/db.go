package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

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

// Open opens a SQLite database. Use ":memory:" for an in-memory database.
// The pool is limited to one connection so every caller sees the same database.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// NewMigrator returns a migration runner for db.
func NewMigrator(db *sql.DB, log *slog.Logger) (migrate.Runner, error) {
	return migrate.New(db, goose.DialectSQLite3, Migrations(), log)
}

// OpenMigrated opens dsn and applies all pending migrations.
func OpenMigrated(ctx context.Context, dsn string, log *slog.Logger) (*sql.DB, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	runner, err := NewMigrator(db, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := runner.Ensure(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
