// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	embeddedmigrations "github.com/adiadia/webhook-runtime/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

const schemaMigrationLockID int64 = 0x5748524b5f4d4947 // "WHRK_MIG"

// ErrMigrationChanged is returned when an already applied migration file no
// longer matches the checksum recorded when it ran.
var ErrMigrationChanged = errors.New("applied migration was modified")

var requiredTables = []string{
	"webhook_events",
	"river_job",
	"river_leader",
	"river_queue",
}

var requiredColumns = [][2]string{
	{"webhook_events", "payload"},
	{"webhook_events", "succeeded_at"},
	{"webhook_events", "failed_at"},
	{"webhook_events", "response_payload"},
}

type SchemaHealthChecker struct {
	pool *pgxpool.Pool
}

func NewSchemaHealthChecker(pool *pgxpool.Pool) *SchemaHealthChecker {
	return &SchemaHealthChecker{pool: pool}
}

func (h *SchemaHealthChecker) Check(ctx context.Context) error {
	return SchemaReady(ctx, h.pool)
}

type appliedMigration struct {
	Name     string
	Checksum string
}

func checksum(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}

// pendingMigrations returns the files not yet recorded in schema_migrations.
// A recorded file whose contents changed stops the bootstrap.
func pendingMigrations(files []embeddedmigrations.File, applied map[int]appliedMigration) ([]embeddedmigrations.File, error) {
	pending := make([]embeddedmigrations.File, 0, len(files))
	for _, f := range files {
		prev, ok := applied[f.Version]
		if !ok {
			pending = append(pending, f)
			continue
		}
		if prev.Checksum != checksum(f.SQL) {
			return nil, fmt.Errorf("%w: version %d (%s)", ErrMigrationChanged, f.Version, prev.Name)
		}
	}
	return pending, nil
}

// EnsureSchema applies the embedded application migrations and the job queue
// migrations under one advisory lock, then verifies the result.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if pool == nil {
		return errors.New("nil database pool")
	}
	if logger == nil {
		logger = slog.Default()
	}

	started := time.Now()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection for schema bootstrap: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, schemaMigrationLockID); err != nil {
		return fmt.Errorf("acquire schema bootstrap lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, schemaMigrationLockID); err != nil {
			logger.Error("schema bootstrap unlock failed", "error", err)
		}
	}()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			filename TEXT NOT NULL,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	files, err := embeddedmigrations.Ordered()
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	if len(files) == 0 {
		return errors.New("no embedded migrations found")
	}

	applied, err := loadAppliedMigrations(ctx, conn)
	if err != nil {
		return err
	}
	pending, err := pendingMigrations(files, applied)
	if err != nil {
		return err
	}

	for _, f := range pending {
		if err := applyMigration(ctx, conn, f); err != nil {
			return fmt.Errorf("apply migration %s: %w", f.Name, err)
		}
		logger.Info("migration applied", "version", f.Version, "file", f.Name)
	}

	queueVersions, err := migrateQueue(ctx, pool, logger)
	if err != nil {
		return fmt.Errorf("apply job queue migrations: %w", err)
	}

	logger.Info("schema bootstrap complete",
		"applied", len(pending),
		"already_applied", len(files)-len(pending),
		"queue_versions_applied", queueVersions,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return SchemaReady(ctx, pool)
}

func loadAppliedMigrations(ctx context.Context, conn *pgxpool.Conn) (map[int]appliedMigration, error) {
	rows, err := conn.Query(ctx, `SELECT version, filename, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]appliedMigration)
	for rows.Next() {
		var (
			version int
			m       appliedMigration
		)
		if err := rows.Scan(&version, &m.Name, &m.Checksum); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[version] = m
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, conn *pgxpool.Conn, f embeddedmigrations.File) error {
	return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, f.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO schema_migrations (version, filename, checksum)
			VALUES ($1, $2, $3)
		`, f.Version, f.Name, checksum(f.SQL))
		return err
	})
}

func migrateQueue(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (int, error) {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), &rivermigrate.Config{Logger: logger})
	if err != nil {
		return 0, err
	}

	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return 0, err
	}
	for _, version := range res.Versions {
		logger.Info("job queue migration applied", "version", version.Version)
	}
	return len(res.Versions), nil
}

// SchemaReady reports an error naming every required table or column that is
// missing. The worker and CLI call it when they are not allowed to migrate.
func SchemaReady(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("nil database pool")
	}

	missingTables, err := collectStrings(ctx, pool, `
		SELECT t FROM unnest($1::text[]) AS t
		WHERE to_regclass('public.' || t) IS NULL
	`, requiredTables)
	if err != nil {
		return fmt.Errorf("check required tables: %w", err)
	}
	if len(missingTables) > 0 {
		return fmt.Errorf("required tables missing: %s", strings.Join(missingTables, ", "))
	}

	tables := make([]string, len(requiredColumns))
	columns := make([]string, len(requiredColumns))
	for i, c := range requiredColumns {
		tables[i], columns[i] = c[0], c[1]
	}
	missingColumns, err := collectStrings(ctx, pool, `
		SELECT c.tbl || '.' || c.col
		FROM unnest($1::text[], $2::text[]) AS c(tbl, col)
		WHERE NOT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = 'public'
			  AND table_name = c.tbl
			  AND column_name = c.col
		)
	`, tables, columns)
	if err != nil {
		return fmt.Errorf("check required columns: %w", err)
	}
	if len(missingColumns) > 0 {
		return fmt.Errorf("required columns missing: %s", strings.Join(missingColumns, ", "))
	}

	return nil
}

func collectStrings(ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) ([]string, error) {
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
