package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/sitaurs/pterodactyl-claim/internal/constants"
	"github.com/sitaurs/pterodactyl-claim/internal/lock"
)

const (
	baseDir = "migrations"
	Schema  = "claim_schema"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Init runs schema initialization and migration scripts against db.
// It ensures that only one instance of the application runs the migration logic
// at a time by using a distributed lock.
//
// The function performs the following steps:
//  1. Acquires a distributed lock to prevent concurrent migrations.
//  2. Pings the database to verify the connection.
//  3. Creates the required schema if it does not exist.
//  4. Executes the embedded SQL scripts in file name order.
//
// Every script is idempotent, so running Init on every boot is safe.
func Init(ctx context.Context, db *sql.DB, distributedLock lock.DistributedLockManager) error {
	migrationLock := constants.MigrationLock

	if err := distributedLock.Acquire(migrationLock); err != nil {
		return err
	}
	defer func() {
		if err := distributedLock.Release(migrationLock); err != nil {
			slog.Warn("failed to release migration lock", slog.Any("error", err))
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", Schema)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	scripts, err := readSQLScripts()
	if err != nil {
		return err
	}
	for _, script := range scripts {
		slog.Info("applying migration", slog.String("script", script.name))
		if _, err := db.ExecContext(ctx, script.body); err != nil {
			return fmt.Errorf("migration %s: %w", script.name, err)
		}
	}

	return nil
}

type sqlScript struct {
	name string
	body string
}

func readSQLScripts() ([]sqlScript, error) {
	entries, err := migrations.ReadDir(baseDir)
	if err != nil {
		return nil, err
	}

	var scripts []sqlScript
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		content, err := migrations.ReadFile(path.Join(baseDir, entry.Name()))
		if err != nil {
			return nil, err
		}

		scripts = append(scripts, sqlScript{name: entry.Name(), body: string(content)})
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].name < scripts[j].name })

	return scripts, nil
}
