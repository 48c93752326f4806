package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// Beginner starts transactions.  *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Table is one table definition: a name and the CREATE TABLE statement that
// produces it.
type Table struct {
	Name string
	DDL  string
}

// Schema is a versioned set of table definitions.  The datastore is a cache:
// there is no migration path between versions.  A version mismatch drops
// every table and recreates the schema from scratch, forcing a full resync.
type Schema struct {
	Version int
	Tables  []Table
}

// EnsureSchema brings the database up to the given schema.  On first use it
// creates all tables; on a version mismatch it drops and recreates them.
// Any DDL error is returned to the caller and must be treated as fatal: the
// store cannot serve requests without its schema.
func EnsureSchema(ctx context.Context, pool Beginner, schema Schema, logger zerolog.Logger) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS schema_info (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_info: %w", err)
	}

	// Only a missing row means a fresh database; any other read failure
	// must not trigger a drop-and-recreate.
	var current int
	found := true
	switch err := tx.QueryRow(ctx, `SELECT version FROM schema_info LIMIT 1`).Scan(&current); {
	case errors.Is(err, pgx.ErrNoRows):
		found = false
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}

	switch {
	case found && current == schema.Version:
		return tx.Commit(ctx)
	case found:
		logger.Warn().
			Int("current", current).
			Int("wanted", schema.Version).
			Msg("schema version mismatch, dropping all tables")
		// Drop in reverse creation order so referencing tables go first.
		for i := len(schema.Tables) - 1; i >= 0; i-- {
			name := schema.Tables[i].Name
			if _, err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", name)); err != nil {
				return fmt.Errorf("drop table %s: %w", name, err)
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM schema_info`); err != nil {
			return fmt.Errorf("clear schema_info: %w", err)
		}
	default:
		logger.Info().Int("version", schema.Version).Msg("initializing datastore schema")
	}

	for _, t := range schema.Tables {
		if _, err := tx.Exec(ctx, t.DDL); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_info (version) VALUES ($1)`, schema.Version); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit(ctx)
}

// CurrentVersion returns the schema version recorded in the database, or 0
// if the schema has never been created.
func CurrentVersion(ctx context.Context, q Querier) (int, error) {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'schema_info')`).
		Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("check schema_info: %w", err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	switch err := q.QueryRow(ctx, `SELECT version FROM schema_info LIMIT 1`).Scan(&version); {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// DropAll removes every table in the schema along with the version record.
// Used by the schema reset command.
func DropAll(ctx context.Context, pool Beginner, schema Schema) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin drop transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := len(schema.Tables) - 1; i >= 0; i-- {
		name := schema.Tables[i].Name
		if _, err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", name)); err != nil {
			return fmt.Errorf("drop table %s: %w", name, err)
		}
	}
	if _, err := tx.Exec(ctx, `DROP TABLE IF EXISTS schema_info`); err != nil {
		return fmt.Errorf("drop schema_info: %w", err)
	}

	return tx.Commit(ctx)
}
