package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/fincue/store"
)

func (d *DB) GetPreference(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := d.db.QueryRowContext(ctx, "SELECT value FROM preference WHERE key = $1", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to get preference %s", key)
	}
	return value, true, nil
}

func (d *DB) SetPreference(ctx context.Context, key, value string) error {
	stmt := `INSERT INTO preference (key, value, updated_ts) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_ts = EXCLUDED.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt, key, value, time.Now().Unix()); err != nil {
		return errors.Wrapf(err, "failed to set preference %s", key)
	}
	return nil
}

func (d *DB) ListPreferences(ctx context.Context) ([]*store.Preference, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT key, value, updated_ts FROM preference ORDER BY key")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list preferences")
	}
	defer rows.Close()

	list := []*store.Preference{}
	for rows.Next() {
		p := &store.Preference{}
		if err := rows.Scan(&p.Key, &p.Value, &p.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan preference")
		}
		list = append(list, p)
	}
	return list, rows.Err()
}
