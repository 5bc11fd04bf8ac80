// Package registry persists jobs, runs and chunk records in an embedded
// sqlite database. The engine only sees the repository interfaces; the
// storage engine behind them is an implementation detail.
package registry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/chunkvault/internal/registry/migrations"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// Registry bundles the repositories over one sqlite database.
type Registry struct {
	DB     *sql.DB
	Jobs   JobRepository
	Runs   RunRepository
	Chunks ChunkRepository
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// Open opens (creating if needed) the registry database at dsn and applies
// pending migrations.
func Open(ctx context.Context, dsn string) (*Registry, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	// sqlite allows a single writer; one pooled connection also keeps
	// in-memory databases coherent across goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Registry{
		DB:     db,
		Jobs:   NewSQLiteJobRepository(db),
		Runs:   NewSQLiteRunRepository(db),
		Chunks: NewSQLiteChunkRepository(db),
	}, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.DB.Close()
}
