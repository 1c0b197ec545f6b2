package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	alertdomain "github.com/vigil-sec/vigil/internal/domain/alerts"
	bldomain "github.com/vigil-sec/vigil/internal/domain/blocklist"
	"github.com/vigil-sec/vigil/internal/domain/faults"
	domain "github.com/vigil-sec/vigil/internal/domain/scans"
)

// Repositories mirror the sqlite adapters against a shared MySQL server; the
// coordinator remains the only ScanRecord writer, so last-write-wins upserts
// keep the same semantics.

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
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 label=VALUES(label), risk_category=VALUES(risk_category), risk_score=VALUES(risk_score),
 confidence=VALUES(confidence), evidence_digest=VALUES(evidence_digest),
 explanation=VALUES(explanation), verification_status=VALUES(verification_status),
 verification_note=VALUES(verification_note), artifact_url=VALUES(artifact_url);
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
		`SELECT `+scanColumns+` FROM scan_records WHERE id=? LIMIT 1;`, id)
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
		q += ` LIMIT ?`
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
		`UPDATE scan_records SET verification_status=?, verification_note=? WHERE id=?;`,
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
		`SELECT COUNT(*) FROM scan_records WHERE created_at >= ?;`, since.Unix()).Scan(&n)
	return n, storageErr(err)
}

func (r *ScanRepository) CountThreats(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scan_records WHERE risk_category != ?;`, domain.CategorySafe).Scan(&n)
	return n, storageErr(err)
}

func (r *ScanRepository) SetPendingResult(ctx context.Context, id domain.ScanID) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO pending_result (slot, scan_id) VALUES (1, ?)
ON DUPLICATE KEY UPDATE scan_id=VALUES(scan_id);`, id)
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
		`SELECT `+scanColumns+` FROM scan_records WHERE id=? LIMIT 1;`, id)
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
INSERT IGNORE INTO alert_records (id, type, description, severity, time, source, status)
VALUES (?,?,?,?,?,?,?);`,
		a.ID, a.Type, a.Description, a.Severity, t.Unix(), a.Source, a.Status)
	return storageErr(err)
}

func (r *AlertRepository) List(ctx context.Context, limit int) ([]*alertdomain.AlertRecord, error) {
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
		`UPDATE alert_records SET status=? WHERE id=?;`, alertdomain.StatusRead, id)
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
INSERT IGNORE INTO blocked_domains (domain, origin_url, added_at)
VALUES (?,?,?);`, e.Domain, e.OriginURL, added.Unix())
	return storageErr(err)
}

func (r *BlocklistRepository) Remove(ctx context.Context, domainName string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM blocked_domains WHERE domain=?;`, domainName)
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
		`SELECT 1 FROM blocked_domains WHERE domain=? LIMIT 1;`, domainName).Scan(&one)
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
