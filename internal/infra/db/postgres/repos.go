package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	alertdomain "github.com/vigil-sec/vigil/internal/domain/alerts"
	bldomain "github.com/vigil-sec/vigil/internal/domain/blocklist"
	"github.com/vigil-sec/vigil/internal/domain/faults"
	domain "github.com/vigil-sec/vigil/internal/domain/scans"
)

// Postgres variant of the store adapters, for installations pointing several
// clients at one shared server.

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		return nil, err
	}
	if err := ensureSchema(ctx, db); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scan_records (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			content_type TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			risk_category TEXT NOT NULL,
			risk_score INT NOT NULL DEFAULT 0,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			evidence_digest TEXT NOT NULL DEFAULT '',
			explanation TEXT NOT NULL DEFAULT '[]',
			verification_status TEXT NOT NULL DEFAULT 'unverified',
			verification_note TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			artifact_url TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_created ON scan_records(created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS alert_records (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL,
			time BIGINT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'unread'
		)`,
		`CREATE TABLE IF NOT EXISTS blocked_domains (
			domain TEXT PRIMARY KEY,
			origin_url TEXT NOT NULL DEFAULT '',
			added_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pending_result (
			slot SMALLINT PRIMARY KEY,
			scan_id TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

type ScanRepository struct {
	db *sql.DB
}

func NewScanRepository(db *sql.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

const scanColumns = `id, label, content_type, created_at, risk_category, risk_score,
 confidence, evidence_digest, explanation, verification_status, verification_note,
 source, artifact_url`

func (r *ScanRepository) Append(ctx context.Context, s *domain.ScanRecord) error {
	explanation, err := json.Marshal(s.Explanation)
	if err != nil {
		return fmt.Errorf("encode explanation: %w", err)
	}
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	status := s.VerificationStatus
	if status == "" {
		status = domain.VerificationUnverified
	}

	const q = `
INSERT INTO scan_records (` + scanColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT(id) DO UPDATE SET
 label=EXCLUDED.label, risk_category=EXCLUDED.risk_category, risk_score=EXCLUDED.risk_score,
 confidence=EXCLUDED.confidence, evidence_digest=EXCLUDED.evidence_digest,
 explanation=EXCLUDED.explanation, verification_status=EXCLUDED.verification_status,
 verification_note=EXCLUDED.verification_note, artifact_url=EXCLUDED.artifact_url;
`
	_, err = r.db.ExecContext(ctx, q,
		s.ID, s.Label, s.ContentType, created.Unix(), s.RiskCategory, s.RiskScore,
		s.Confidence, s.EvidenceDigest, string(explanation), status, s.VerificationNote,
		s.Source, s.ArtifactURL,
	)
	return storageErr(err)
}

func (r *ScanRepository) Get(ctx context.Context, id domain.ScanID) (*domain.ScanRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+scanColumns+` FROM scan_records WHERE id=$1 LIMIT 1;`, id)
	rec, err := scanRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: scan %s", faults.ErrNotFound, id)
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return rec, nil
}

func (r *ScanRepository) List(ctx context.Context, limit int) ([]*domain.ScanRecord, error) {
	q := `SELECT ` + scanColumns + ` FROM scan_records ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var out []*domain.ScanRecord
	for rows.Next() {
		rec, err := scanRow(rows.Scan)
		if err != nil {
			return nil, storageErr(err)
		}
		out = append(out, rec)
	}
	return out, storageErr(rows.Err())
}

func (r *ScanRepository) UpdateVerification(ctx context.Context, id domain.ScanID, status domain.VerificationStatus, note string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE scan_records SET verification_status=$1, verification_note=$2 WHERE id=$3;`,
		status, note, id)
	if err != nil {
		return storageErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: scan %s", faults.ErrNotFound, id)
	}
	return nil
}

func (r *ScanRepository) CountAll(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scan_records;`).Scan(&n)
	return n, storageErr(err)
}

func (r *ScanRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scan_records WHERE created_at >= $1;`, since.Unix()).Scan(&n)
	return n, storageErr(err)
}

func (r *ScanRepository) CountThreats(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scan_records WHERE risk_category != $1;`, domain.CategorySafe).Scan(&n)
	return n, storageErr(err)
}

func (r *ScanRepository) SetPendingResult(ctx context.Context, id domain.ScanID) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO pending_result (slot, scan_id) VALUES (1, $1)
ON CONFLICT(slot) DO UPDATE SET scan_id=EXCLUDED.scan_id;`, id)
	return storageErr(err)
}

func (r *ScanRepository) PopPendingResult(ctx context.Context) (*domain.ScanRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr(err)
	}
	defer tx.Rollback()

	var id domain.ScanID
	err = tx.QueryRowContext(ctx, `SELECT scan_id FROM pending_result WHERE slot=1 FOR UPDATE;`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_result WHERE slot=1;`); err != nil {
		return nil, storageErr(err)
	}
	row := tx.QueryRowContext(ctx,
		`SELECT `+scanColumns+` FROM scan_records WHERE id=$1 LIMIT 1;`, id)
	rec, err := scanRow(row.Scan)
	if err != nil {
		return nil, storageErr(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr(err)
	}
	return rec, nil
}

type AlertRepository struct {
	db *sql.DB
}

func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

func (r *AlertRepository) Append(ctx context.Context, a *alertdomain.AlertRecord) error {
	t := a.Time
	if t.IsZero() {
		t = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alert_records (id, type, description, severity, time, source, status)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT(id) DO NOTHING;`,
		a.ID, a.Type, a.Description, a.Severity, t.Unix(), a.Source, a.Status)
	return storageErr(err)
}

func (r *AlertRepository) List(ctx context.Context, limit int) ([]*alertdomain.AlertRecord, error) {
	q := `SELECT id, type, description, severity, time, source, status
FROM alert_records ORDER BY time DESC, id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var out []*alertdomain.AlertRecord
	for rows.Next() {
		var (
			a  alertdomain.AlertRecord
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
		`UPDATE alert_records SET status=$1 WHERE id=$2;`, alertdomain.StatusRead, id)
	if err != nil {
		return storageErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: alert %s", faults.ErrNotFound, id)
	}
	return nil
}

type BlocklistRepository struct {
	db *sql.DB
}

func NewBlocklistRepository(db *sql.DB) *BlocklistRepository {
	return &BlocklistRepository{db: db}
}

func (r *BlocklistRepository) Add(ctx context.Context, e *bldomain.Entry) error {
	added := e.AddedAt
	if added.IsZero() {
		added = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO blocked_domains (domain, origin_url, added_at)
VALUES ($1,$2,$3)
ON CONFLICT(domain) DO NOTHING;`, e.Domain, e.OriginURL, added.Unix())
	return storageErr(err)
}

func (r *BlocklistRepository) Remove(ctx context.Context, domainName string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM blocked_domains WHERE domain=$1;`, domainName)
	return storageErr(err)
}

func (r *BlocklistRepository) List(ctx context.Context) ([]*bldomain.Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT domain, origin_url, added_at FROM blocked_domains ORDER BY added_at DESC;`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var out []*bldomain.Entry
	for rows.Next() {
		var (
			e  bldomain.Entry
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
		`SELECT 1 FROM blocked_domains WHERE domain=$1 LIMIT 1;`, domainName).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr(err)
	}
	return true, nil
}

func scanRow(scan func(dest ...any) error) (*domain.ScanRecord, error) {
	var (
		rec         domain.ScanRecord
		createdAt   int64
		explanation string
	)
	if err := scan(
		&rec.ID, &rec.Label, &rec.ContentType, &createdAt, &rec.RiskCategory, &rec.RiskScore,
		&rec.Confidence, &rec.EvidenceDigest, &explanation, &rec.VerificationStatus,
		&rec.VerificationNote, &rec.Source, &rec.ArtifactURL,
	); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	if explanation != "" {
		if err := json.Unmarshal([]byte(explanation), &rec.Explanation); err != nil {
			return nil, fmt.Errorf("decode explanation: %w", err)
		}
	}
	return &rec, nil
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, faults.ErrNotFound) || errors.Is(err, faults.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", faults.ErrStorageUnavailable, err)
}
