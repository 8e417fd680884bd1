package postgres

import (
	"context"
	"database/sql"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/fincue/store"
)

type DB struct {
	db *sql.DB
}

// NewDB opens a PostgreSQL connection pool for dsn.
func NewDB(dsn string) (store.Driver, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &DB{db: db}, nil
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
				success BOOLEAN NOT NULL,
				processing_ms BIGINT NOT NULL,
				confidence DOUBLE PRECISION,
				cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0
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
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migration (version, applied_ts) VALUES ($1, $2)", m.Version, time.Now().Unix()); err != nil {
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
