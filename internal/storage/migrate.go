package storage

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"nft-market-sync/internal/storage/migrations"
)

const (
	createMigrationsTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version    TEXT PRIMARY KEY,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`

	migrationLockSQL     = `SELECT pg_advisory_xact_lock($1);`
	migrationAppliedSQL  = `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1);`
	recordMigrationSQL   = `INSERT INTO schema_migrations (version) VALUES ($1);`
	listAppliedSQL       = `SELECT version FROM schema_migrations ORDER BY version;`
	migrationLockKey     = int64(0x6d696772)
	migrationSQLSuffix   = ".sql"
	migrationsSourceRoot = "postgres"
)

// Migrate applies every embedded migration not yet recorded in
// schema_migrations, in lexical order, each in its own transaction.
// It returns the versions applied by this call.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, createMigrationsTableSQL); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := migrationFiles()
	if err != nil {
		return nil, err
	}

	applied := make([]string, 0, len(files))
	for _, file := range files {
		version := strings.TrimSuffix(file, migrationSQLSuffix)
		data, err := fs.ReadFile(migrations.PostgresFS, migrationsSourceRoot+"/"+file)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", file, err)
		}

		done, err := applyMigration(ctx, pool, version, string(data))
		if err != nil {
			return applied, err
		}
		if done {
			applied = append(applied, version)
		}
	}
	return applied, nil
}

// AppliedMigrations lists recorded schema versions.
func (s *Store) AppliedMigrations(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listAppliedSQL)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

func applyMigration(ctx context.Context, db txBeginner, version, body string) (bool, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin migration %s: %w", version, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, migrationLockSQL, migrationLockKey); err != nil {
		return false, fmt.Errorf("lock migrations: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, migrationAppliedSQL, version).Scan(&exists); err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	if exists {
		return false, nil
	}

	if strings.TrimSpace(body) != "" {
		if _, err := tx.Exec(ctx, body); err != nil {
			return false, fmt.Errorf("apply migration %s: %w", version, err)
		}
	}
	if _, err := tx.Exec(ctx, recordMigrationSQL, version); err != nil {
		return false, fmt.Errorf("record migration %s: %w", version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", version, err)
	}
	return true, nil
}

func migrationFiles() ([]string, error) {
	entries, err := fs.ReadDir(migrations.PostgresFS, migrationsSourceRoot)
	if err != nil {
		return nil, fmt.Errorf("read embedded postgres migrations: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), migrationSQLSuffix) {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
