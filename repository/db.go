// Package repository is the bun backed credential store. Token material is
// encrypted with tokencrypt before it reaches the database.
package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Open opens a SQLite database through the sqliteshim driver and enables
// foreign keys. The pool is limited to one connection so the pragma holds
// for every statement and writers are serialized.
func Open(ctx context.Context, dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate applies all pending migrations and returns the applied versions.
func Migrate(ctx context.Context, db *bun.DB) ([]int64, error) {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create sub filesystem: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectSQLite3, db.DB, migrationFS)
	if err != nil {
		return nil, fmt.Errorf("failed to create goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	versions := make([]int64, 0, len(results))
	for _, r := range results {
		if r.Source != nil {
			versions = append(versions, r.Source.Version)
		}
	}
	return versions, nil
}

func runInTx(ctx context.Context, db *bun.DB, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return db.RunInTx(ctx, nil, f)
	}
}
