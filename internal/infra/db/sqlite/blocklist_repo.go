package sqlite

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/vigil-sec/vigil/internal/domain/blocklist"
)

type BlocklistRepository struct {
	db *sql.DB
}

func NewBlocklistRepository(db *sql.DB) *BlocklistRepository {
	return &BlocklistRepository{db: db}
}

// Add upserts by domain; the primary key keeps at most one entry per domain.
func (r *BlocklistRepository) Add(ctx context.Context, e *domain.Entry) error {
	added := e.AddedAt
	if added.IsZero() {
		added = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO blocked_domains (domain, origin_url, added_at)
VALUES (?,?,?)
ON CONFLICT(domain) DO NOTHING;`,
		e.Domain, e.OriginURL, added.Unix())
	return storageErr(err)
}

func (r *BlocklistRepository) Remove(ctx context.Context, domainName string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM blocked_domains WHERE domain=?;`, domainName)
	return storageErr(err)
}

func (r *BlocklistRepository) List(ctx context.Context) ([]*domain.Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT domain, origin_url, added_at FROM blocked_domains ORDER BY added_at DESC;`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var out []*domain.Entry
	for rows.Next() {
		var (
			e  domain.Entry
			ts int64
		)
		if err := rows.Scan(&e.Domain, &e.OriginURL, &ts); err != nil {
			return nil, storageErr(err)
		}
		e.AddedAt = time.Unix(ts, 0)
		out = append(out, &e)
	}
	return out, storageErr(rows.Err())
}

func (r *BlocklistRepository) Contains(ctx context.Context, domainName string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM blocked_domains WHERE domain=? LIMIT 1;`, domainName).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storageErr(err)
	}
	return true, nil
}
