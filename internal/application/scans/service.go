package scans

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigil-sec/vigil/internal/application"
	"github.com/vigil-sec/vigil/internal/application/aggregate"
	"github.com/vigil-sec/vigil/internal/domain/alerts"
	"github.com/vigil-sec/vigil/internal/domain/analysis"
	"github.com/vigil-sec/vigil/internal/domain/faults"
	domain "github.com/vigil-sec/vigil/internal/domain/scans"
	"github.com/vigil-sec/vigil/internal/domain/verification"
	"github.com/vigil-sec/vigil/internal/logging"
)

// maxTextContent is the hard cap on a text sample; anything larger is
// rejected before submission.
const maxTextContent = 5000

// maxArtifactBytes bounds the context-menu artifact path.
const maxArtifactBytes = 15 << 20

// Service implements the coordinator use-cases. Each scan request is an
// independent unit of work: Submitted is the only suspending state and no
// request waits on another.
type Service struct {
	Repo      domain.Repository
	Alerts    alerts.Repository
	Analyzer  analysis.Client
	Verifier  verification.Client
	Artifacts domain.ArtifactStore // optional
	Fetcher   domain.Fetcher
	Engine    *aggregate.Engine
	Clock     application.Clock
	Log       *zap.Logger

	mu       sync.Mutex
	unsynced []*domain.ScanRecord
}

// Command untuk submit scan
type SubmitScanCommand struct {
	Type    domain.ContentType
	Content string
	Label   string
	Source  string
}

// SubmitScan validates the content, calls the remote analysis service and,
// on a verdict, persists a new ScanRecord plus any derived alert. Analysis
// failures are surfaced, never persisted as records.
func (s *Service) SubmitScan(ctx context.Context, cmd SubmitScanCommand) (*domain.ScanRecord, error) {
	if err := validate(cmd); err != nil {
		return nil, err
	}

	verdict, err := s.Analyzer.Analyze(ctx, analysis.Request{
		Type:    cmd.Type,
		Content: cmd.Content,
		Label:   cmd.Label,
	})
	if err != nil {
		return nil, remoteErr("analysis", err)
	}

	rec := &domain.ScanRecord{
		ID:                 domain.ScanID(fmt.Sprintf("%s-%s", uuid.New().String(), cmd.Type)),
		Label:              cmd.Label,
		ContentType:        cmd.Type,
		CreatedAt:          s.Clock.Now(),
		RiskCategory:       normalizeCategory(verdict.Category),
		RiskScore:          clampScore(verdict.RiskScore),
		Confidence:         verdict.Confidence,
		EvidenceDigest:     verdict.EvidenceDigest,
		Explanation:        verdict.Explanation,
		VerificationStatus: domain.VerificationUnverified,
		Source:             cmd.Source,
	}

	s.persist(ctx, rec)

	if alert := alerts.Derive(rec); alert != nil {
		if err := s.Alerts.Append(ctx, alert); err != nil {
			s.Log.Warn("alert append failed", logging.ScanID(string(rec.ID)), zap.Error(err))
		}
	}
	return rec, nil
}

// persist writes the record, degrading to the in-memory unsynced overlay when
// durable storage is unavailable. The calling context never crashes on a
// storage failure.
func (s *Service) persist(ctx context.Context, rec *domain.ScanRecord) {
	s.flushUnsynced(ctx)
	if err := s.Repo.Append(ctx, rec); err != nil {
		s.Log.Warn("storage unavailable, keeping record in memory",
			logging.ScanID(string(rec.ID)), zap.Error(err))
		rec.Unsynced = true
		s.mu.Lock()
		for _, held := range s.unsynced {
			if held.ID == rec.ID {
				s.mu.Unlock()
				return
			}
		}
		s.unsynced = append(s.unsynced, rec)
		s.mu.Unlock()
	}
}

// flushUnsynced retries overlay records once storage answers again.
func (s *Service) flushUnsynced(ctx context.Context) {
	s.mu.Lock()
	pending := s.unsynced
	s.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	var remaining []*domain.ScanRecord
	for _, rec := range pending {
		if err := s.Repo.Append(ctx, rec); err != nil {
			remaining = append(remaining, rec)
			continue
		}
		rec.Unsynced = false
	}
	s.mu.Lock()
	s.unsynced = remaining
	s.mu.Unlock()
}

// ScanArtifact handles the context-menu path: fetch the artifact, archive the
// original bytes, submit it as an image scan and set the pending-result
// marker so an open presentation surface can pop it exactly once.
func (s *Service) ScanArtifact(ctx context.Context, rawURL, label string) (*domain.ScanRecord, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("%w: artifact url required", faults.ErrValidation)
	}
	if label == "" {
		label = "Context Menu Image"
	}

	data, contentType, err := s.Fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, remoteErr("artifact fetch", err)
	}
	if len(data) == 0 || len(data) > maxArtifactBytes {
		return nil, fmt.Errorf("%w: artifact size %d out of bounds", faults.ErrValidation, len(data))
	}

	rec, err := s.SubmitScan(ctx, SubmitScanCommand{
		Type:    domain.TypeImage,
		Content: base64.StdEncoding.EncodeToString(data),
		Label:   label,
		Source:  "context-menu",
	})
	if err != nil {
		return nil, err
	}

	if s.Artifacts != nil {
		key := fmt.Sprintf("artifacts/%s", rec.ID)
		if url, aerr := s.Artifacts.Put(ctx, key, data, contentType); aerr != nil {
			s.Log.Warn("artifact archive failed", logging.ScanID(string(rec.ID)), zap.Error(aerr))
		} else {
			rec.ArtifactURL = url
			s.persist(ctx, rec)
		}
	}

	if err := s.Repo.SetPendingResult(ctx, rec.ID); err != nil {
		s.Log.Warn("pending-result marker failed", logging.ScanID(string(rec.ID)), zap.Error(err))
	}
	return rec, nil
}

// PopPendingResult returns the context-menu result awaiting the presentation
// surface and clears the marker, so it cannot surface twice.
func (s *Service) PopPendingResult(ctx context.Context) (*domain.ScanRecord, error) {
	return s.Repo.PopPendingResult(ctx)
}

// TriggerEmergency records a user-initiated SOS: a CRITICAL alert plus a
// companion scan record in the forensic log. No remote analysis is involved,
// so the record carries no evidence digest.
func (s *Service) TriggerEmergency(ctx context.Context) (*alerts.AlertRecord, error) {
	now := s.Clock.Now()
	rec := &domain.ScanRecord{
		ID:                 domain.ScanID(fmt.Sprintf("%s-%s", uuid.New().String(), domain.TypeText)),
		Label:              "[EMERGENCY]: Manual SOS Activation",
		ContentType:        domain.TypeText,
		CreatedAt:          now,
		RiskCategory:       domain.CategoryScam,
		RiskScore:          100,
		Confidence:         1,
		Explanation:        []string{"Manual SOS signal received."},
		VerificationStatus: domain.VerificationUnverified,
		Source:             "sos",
	}
	s.persist(ctx, rec)

	alert := &alerts.AlertRecord{
		ID:          string(rec.ID) + "-alert",
		Type:        "SOS EMERGENCY TRIGGERED",
		Description: "CRITICAL: Manual SOS signal received. Forensic snapshot taken.",
		Severity:    alerts.SeverityCritical,
		Time:        now,
		Source:      "User Triggered SOS",
		Status:      alerts.StatusUnread,
	}
	if err := s.Alerts.Append(ctx, alert); err != nil {
		return nil, err
	}
	s.Log.Warn("emergency trigger recorded", logging.ScanID(string(rec.ID)))
	return alert, nil
}

// Verify runs the verification workflow for one record. It always starts
// from pending regardless of a prior failed state, and is retryable without
// bound. A transport failure restores the prior status: only an explicit
// failed verdict from a fresh remote call may downgrade a verified record.
func (s *Service) Verify(ctx context.Context, id domain.ScanID) (*domain.ScanRecord, error) {
	rec, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.EvidenceDigest == "" {
		return nil, fmt.Errorf("%w: record has no evidence digest", faults.ErrValidation)
	}

	prior := rec.VerificationStatus
	if !prior.CanTransition(domain.VerificationPending) {
		return nil, fmt.Errorf("%w: cannot start verification from status %q", faults.ErrValidation, prior)
	}
	if err := s.Repo.UpdateVerification(ctx, id, domain.VerificationPending, ""); err != nil {
		return nil, err
	}

	res, err := s.Verifier.Verify(ctx, rec.EvidenceDigest)
	if err != nil {
		// not a fresh verdict; restore what we had
		if rerr := s.Repo.UpdateVerification(ctx, id, prior, rec.VerificationNote); rerr != nil {
			s.Log.Warn("verification status restore failed", logging.ScanID(string(id)), zap.Error(rerr))
		}
		return nil, remoteErr("verification", err)
	}

	status := domain.VerificationFailed
	if res.Status == verification.StatusVerified {
		status = domain.VerificationVerified
	}
	note := res.Message
	if note == "" && res.TransactionID != "" {
		note = fmt.Sprintf("tx %s", res.TransactionID)
	}
	if err := s.Repo.UpdateVerification(ctx, id, status, note); err != nil {
		return nil, err
	}

	rec.VerificationStatus = status
	rec.VerificationNote = note
	return rec, nil
}

// Snapshot derives the presentation read model, merging in any unsynced
// overlay records. A storage outage degrades to the overlay view with the
// stale flag set instead of failing the caller.
func (s *Service) Snapshot(ctx context.Context) (*aggregate.Snapshot, error) {
	s.flushUnsynced(ctx)

	snap, err := s.Engine.Snapshot(ctx)
	if err != nil {
		s.Log.Warn("snapshot degraded to in-memory view", zap.Error(err))
		snap = &aggregate.Snapshot{Stale: true}
	}

	s.mu.Lock()
	overlay := make([]*domain.ScanRecord, len(s.unsynced))
	copy(overlay, s.unsynced)
	s.mu.Unlock()

	if len(overlay) > 0 {
		snap.Stale = true
		// overlay records are the newest; keep newest-first order
		merged := make([]*domain.ScanRecord, 0, len(overlay)+len(snap.Scans))
		for i := len(overlay) - 1; i >= 0; i-- {
			merged = append(merged, overlay[i])
		}
		snap.Scans = append(merged, snap.Scans...)
	}
	return snap, nil
}

// List exposes the full forensic log, newest-first.
func (s *Service) List(ctx context.Context, limit int) ([]*domain.ScanRecord, error) {
	return s.Repo.List(ctx, limit)
}

// Get ambil 1 scan by id
func (s *Service) Get(ctx context.Context, id domain.ScanID) (*domain.ScanRecord, error) {
	return s.Repo.Get(ctx, id)
}

// ListAlerts returns alerts newest-first.
func (s *Service) ListAlerts(ctx context.Context, limit int) ([]*alerts.AlertRecord, error) {
	return s.Alerts.List(ctx, limit)
}

// MarkAlertRead flips one alert to read.
func (s *Service) MarkAlertRead(ctx context.Context, id string) error {
	return s.Alerts.MarkRead(ctx, id)
}

func validate(cmd SubmitScanCommand) error {
	switch cmd.Type {
	case domain.TypeText, domain.TypeImage, domain.TypeVideo, domain.TypeAudio:
	default:
		return fmt.Errorf("%w: unsupported scan type %q", faults.ErrValidation, cmd.Type)
	}
	content := strings.TrimSpace(cmd.Content)
	if content == "" {
		return fmt.Errorf("%w: empty content", faults.ErrValidation)
	}
	if cmd.Type == domain.TypeText && len([]rune(content)) > maxTextContent {
		return fmt.Errorf("%w: text sample exceeds %d characters", faults.ErrValidation, maxTextContent)
	}
	return nil
}

func remoteErr(op string, err error) error {
	if errors.Is(err, faults.ErrValidation) || errors.Is(err, faults.ErrRemoteUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", faults.ErrRemoteUnavailable, op, err)
}

// normalizeCategory folds the analysis service's vocabulary onto the risk
// categories. Unknown labels are treated as suspicious rather than safe.
func normalizeCategory(category string) domain.RiskCategory {
	switch strings.ToUpper(strings.TrimSpace(category)) {
	case "SAFE", "REAL":
		return domain.CategorySafe
	case "SCAM", "FRAUD", "FRAUDULENT":
		return domain.CategoryScam
	case "DEEPFAKE":
		return domain.CategoryDeepfake
	case "SUSPICIOUS", "":
		return domain.CategorySuspicious
	}
	return domain.CategorySuspicious
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
