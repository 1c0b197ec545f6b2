package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vigil-sec/vigil/internal/domain/faults"
	domain "github.com/vigil-sec/vigil/internal/domain/scans"
)

type ScanRepository struct {
	db *sql.DB
}

func NewScanRepository(db *sql.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

const scanColumns = `id, label, content_type, created_at, risk_category, risk_score,
 confidence, evidence_digest, explanation, verification_status, verification_note,
 source, artifact_url`

// Append insert/update ScanRecord; last-write-wins per id.
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
ON CONFLICT(id) DO UPDATE SET
 label=excluded.label,
 risk_category=excluded.risk_category, risk_score=excluded.risk_score,
 confidence=excluded.confidence, evidence_digest=excluded.evidence_digest,
 explanation=excluded.explanation, verification_status=excluded.verification_status,
 verification_note=excluded.verification_note, artifact_url=excluded.artifact_url;
`
	_, err = r.db.ExecContext(ctx, q,
		s.ID, s.Label, s.ContentType, created.Unix(), s.RiskCategory, s.RiskScore,
		s.Confidence, s.EvidenceDigest, string(explanation), status, s.VerificationNote,
		s.Source, s.ArtifactURL,
	)
	return storageErr(err)
}

// Get by ID
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

// List returns records newest-first; limit <= 0 returns the full log.
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

// UpdateVerification mutates only the verification columns; the verify
// workflow is the single writer of verification_status.
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

// SetPendingResult records the context-menu result awaiting pickup. A newer
// result replaces an unclaimed older one.
func (r *ScanRepository) SetPendingResult(ctx context.Context, id domain.ScanID) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO pending_result (slot, scan_id) VALUES (1, ?)
ON CONFLICT(slot) DO UPDATE SET scan_id=excluded.scan_id;`, id)
	return storageErr(err)
}

// PopPendingResult returns the marked record and clears the marker in one
// transaction; a second pop returns nil.
func (r *ScanRepository) PopPendingResult(ctx context.Context) (*domain.ScanRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr(err)
	}
	defer tx.Rollback()

	var id domain.ScanID
	err = tx.QueryRowContext(ctx, `SELECT scan_id FROM pending_result WHERE slot=1;`).Scan(&id)
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

// storageErr folds driver failures into the storage taxonomy so callers can
// degrade instead of crashing.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, faults.ErrNotFound) || errors.Is(err, faults.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", faults.ErrStorageUnavailable, err)
}
