package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/fincue/store"
)

func (d *DB) SavePerformanceSnapshot(ctx context.Context, s *store.PerformanceSnapshot) error {
	stmt := `INSERT INTO performance_snapshot
		(id, created_ts, source, task, success, processing_ms, confidence, cost_usd)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	var confidence sql.NullFloat64
	if s.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *s.Confidence, Valid: true}
	}
	if _, err := d.db.ExecContext(ctx, stmt,
		s.ID, s.CreatedTs, s.Source, s.Task, s.Success, s.ProcessingMs, confidence, s.CostUSD,
	); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return errors.Errorf("performance snapshot %s already exists", s.ID)
		}
		return errors.Wrap(err, "failed to save performance snapshot")
	}
	return nil
}

func (d *DB) ListPerformanceSnapshots(ctx context.Context, find *store.FindPerformanceSnapshot) ([]*store.PerformanceSnapshot, error) {
	if find == nil {
		find = &store.FindPerformanceSnapshot{}
	}
	where, args := []string{"1 = 1"}, []any{}
	if find.Source != nil {
		args = append(args, *find.Source)
		where = append(where, fmt.Sprintf("source = $%d", len(args)))
	}
	if find.Task != nil {
		args = append(args, *find.Task)
		where = append(where, fmt.Sprintf("task = $%d", len(args)))
	}
	if find.SinceTs != nil {
		args = append(args, *find.SinceTs)
		where = append(where, fmt.Sprintf("created_ts >= $%d", len(args)))
	}
	query := `SELECT id, created_ts, source, task, success, processing_ms, confidence, cost_usd
		FROM performance_snapshot WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts DESC, id DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list performance snapshots")
	}
	defer rows.Close()

	list := []*store.PerformanceSnapshot{}
	for rows.Next() {
		s := &store.PerformanceSnapshot{}
		var confidence sql.NullFloat64
		if err := rows.Scan(&s.ID, &s.CreatedTs, &s.Source, &s.Task, &s.Success, &s.ProcessingMs, &confidence, &s.CostUSD); err != nil {
			return nil, errors.Wrap(err, "failed to scan performance snapshot")
		}
		if confidence.Valid {
			s.Confidence = &confidence.Float64
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (d *DB) DeletePerformanceSnapshots(ctx context.Context, before int64) (int64, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM performance_snapshot WHERE created_ts < $1", before)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete performance snapshots")
	}
	return result.RowsAffected()
}
