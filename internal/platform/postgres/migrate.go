package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

var gooseMu sync.Mutex

// MigrateUp applies every pending migration.
func MigrateUp(ctx context.Context, pool *pgxpool.Pool) error {
	return withGoose(pool, func(db *sql.DB) error {
		if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("postgres: migrate up: %w", err)
		}
		return nil
	})
}

// MigrateDown rolls back the most recent migration.
func MigrateDown(ctx context.Context, pool *pgxpool.Pool) error {
	return withGoose(pool, func(db *sql.DB) error {
		if err := goose.DownContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("postgres: migrate down: %w", err)
		}
		return nil
	})
}

// MigrationStatus logs the applied state of each migration through goose's logger.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool) error {
	return withGoose(pool, func(db *sql.DB) error {
		if err := goose.StatusContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("postgres: migrate status: %w", err)
		}
		return nil
	})
}

// goose keeps its base FS and dialect in package state.
func withGoose(pool *pgxpool.Pool, fn func(db *sql.DB) error) error {
	if pool == nil {
		return errors.New("postgres: pool is nil")
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("postgres: goose dialect: %w", err)
	}

	return fn(stdlib.OpenDBFromPool(pool))
}
