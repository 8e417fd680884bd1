package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/fincue/store"
)

type DB struct {
	db *sql.DB
}

// NewDB opens the SQLite database at dsn.
func NewDB(dsn string) (store.Driver, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}

	// With modernc.org/sqlite each pragma is passed as a _pragma= parameter.
	// WAL avoids reader/writer lock contention; busy_timeout covers the rest.
	sqliteDB, err := sql.Open("sqlite", dsn+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}

	// Single connection: the router is the only writer.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{db: sqliteDB}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

var migrations = []store.Migration{
	{
		Version: "v0.1.0",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS preference (
				key TEXT NOT NULL PRIMARY KEY,
				value TEXT NOT NULL,
				updated_ts BIGINT NOT NULL
			)`,
		},
	},
	{
		Version: "v0.2.0",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS performance_snapshot (
				id TEXT NOT NULL PRIMARY KEY,
				created_ts BIGINT NOT NULL,
				source TEXT NOT NULL,
				task TEXT NOT NULL,
				success INTEGER NOT NULL,
				processing_ms BIGINT NOT NULL,
				confidence REAL,
				cost_usd REAL NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_performance_snapshot_created_ts ON performance_snapshot (created_ts)`,
		},
	},
}

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migration (
		version TEXT NOT NULL PRIMARY KEY,
		applied_ts BIGINT NOT NULL
	)`); err != nil {
		return errors.Wrap(err, "failed to create schema_migration table")
	}

	current, err := d.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	pending, err := store.PendingMigrations(current, migrations)
	if err != nil {
		return err
	}

	for _, m := range pending {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "failed to begin migration")
		}
		for _, stmt := range m.Statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return errors.Wrapf(err, "failed to apply migration %s", m.Version)
			}
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migration (version, applied_ts) VALUES (?, ?)", m.Version, time.Now().Unix()); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "failed to record migration %s", m.Version)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "failed to commit migration %s", m.Version)
		}
	}
	return nil
}

func (d *DB) SchemaVersion(ctx context.Context) (string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT version FROM schema_migration")
	if err != nil {
		return "", errors.Wrap(err, "failed to read schema version")
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return "", errors.Wrap(err, "failed to scan schema version")
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return store.LatestVersion(versions), nil
}
