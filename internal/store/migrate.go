package store

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/db"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// migrationLockID is the Postgres advisory lock key guarding migrations.
const migrationLockID = 7315

const migrationTableSQL = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`

// migrationFiles returns the sorted migration file names for a driver.
func migrationFiles(driver string) ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations/"+driver)
	if err != nil {
		return nil, eris.Wrapf(err, "store: read %s migration dir", driver)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func readMigration(driver, name string) (string, error) {
	data, err := migrationFS.ReadFile("migrations/" + driver + "/" + name)
	if err != nil {
		return "", eris.Wrapf(err, "store: read migration %s", name)
	}
	return string(data), nil
}

// migratePostgres runs all pending Postgres migrations in lexicographic
// order under an advisory lock.
func migratePostgres(ctx context.Context, pool db.Pool) error {
	log := zap.L().With(zap.String("component", "store.migrate"), zap.String("driver", DriverPostgres))

	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "store: acquire migration advisory lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("store: failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if _, err := pool.Exec(ctx, migrationTableSQL); err != nil {
		return eris.Wrap(err, "store: ensure migration table")
	}

	rows, err := pool.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return eris.Wrap(err, "store: query applied migrations")
	}
	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return eris.Wrap(err, "store: scan migration row")
		}
		applied[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "store: iterate applied migrations")
	}

	names, err := migrationFiles(DriverPostgres)
	if err != nil {
		return err
	}
	for _, name := range names {
		if applied[name] {
			continue
		}
		sqlText, err := readMigration(DriverPostgres, name)
		if err != nil {
			return err
		}

		log.Info("applying migration", zap.String("file", name))
		if _, err := pool.Exec(ctx, sqlText); err != nil {
			return eris.Wrapf(err, "store: apply migration %s", name)
		}
		if _, err := pool.Exec(ctx,
			"INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, now()::text)",
			name,
		); err != nil {
			return eris.Wrapf(err, "store: record migration %s", name)
		}
	}
	return nil
}

// migrateSQLite runs all pending SQLite migrations, each in its own
// transaction.
func migrateSQLite(ctx context.Context, conn *sql.DB) error {
	log := zap.L().With(zap.String("component", "store.migrate"), zap.String("driver", DriverSQLite))

	if _, err := conn.ExecContext(ctx, migrationTableSQL); err != nil {
		return eris.Wrap(err, "store: ensure migration table")
	}

	rows, err := conn.QueryContext(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return eris.Wrap(err, "store: query applied migrations")
	}
	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close() //nolint:errcheck
			return eris.Wrap(err, "store: scan migration row")
		}
		applied[name] = true
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "store: iterate applied migrations")
	}

	names, err := migrationFiles(DriverSQLite)
	if err != nil {
		return err
	}
	for _, name := range names {
		if applied[name] {
			continue
		}
		sqlText, err := readMigration(DriverSQLite, name)
		if err != nil {
			return err
		}

		log.Info("applying migration", zap.String("file", name))
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return eris.Wrapf(err, "store: begin migration %s", name)
		}
		if _, err := tx.ExecContext(ctx, sqlText); err != nil {
			_ = tx.Rollback()
			return eris.Wrapf(err, "store: apply migration %s", name)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (filename, applied_at) VALUES (?, datetime('now'))",
			name,
		); err != nil {
			_ = tx.Rollback()
			return eris.Wrapf(err, "store: record migration %s", name)
		}
		if err := tx.Commit(); err != nil {
			return eris.Wrapf(err, "store: commit migration %s", name)
		}
	}
	return nil
}
