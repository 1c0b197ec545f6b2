package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	domain "github.com/vigil-sec/vigil/internal/domain/alerts"
	"github.com/vigil-sec/vigil/internal/domain/faults"
)

type AlertRepository struct {
	db *sql.DB
}

func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

func (r *AlertRepository) Append(ctx context.Context, a *domain.AlertRecord) error {
	t := a.Time
	if t.IsZero() {
		t = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alert_records (id, type, description, severity, time, source, status)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO NOTHING;`,
		a.ID, a.Type, a.Description, a.Severity, t.Unix(), a.Source, a.Status)
	return storageErr(err)
}

func (r *AlertRepository) List(ctx context.Context, limit int) ([]*domain.AlertRecord, error) {
	q := `SELECT id, type, description, severity, time, source, status
FROM alert_records ORDER BY time DESC, id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var out []*domain.AlertRecord
	for rows.Next() {
		var (
			a  domain.AlertRecord
			ts int64
		)
		if err := rows.Scan(&a.ID, &a.Type, &a.Description, &a.Severity, &ts, &a.Source, &a.Status); err != nil {
			return nil, storageErr(err)
		}
		a.Time = time.Unix(ts, 0)
		out = append(out, &a)
	}
	return out, storageErr(rows.Err())
}

func (r *AlertRepository) MarkRead(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE alert_records SET status=? WHERE id=?;`, domain.StatusRead, id)
	if err != nil {
		return storageErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: alert %s", faults.ErrNotFound, id)
	}
	return nil
}
