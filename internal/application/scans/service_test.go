package scans

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vigil-sec/vigil/internal/application/aggregate"
	"github.com/vigil-sec/vigil/internal/domain/alerts"
	"github.com/vigil-sec/vigil/internal/domain/analysis"
	"github.com/vigil-sec/vigil/internal/domain/faults"
	domain "github.com/vigil-sec/vigil/internal/domain/scans"
	"github.com/vigil-sec/vigil/internal/domain/verification"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type memRepo struct {
	mu          sync.Mutex
	recs        []*domain.ScanRecord
	pending     domain.ScanID
	hasPending  bool
	unavailable bool
}

func (m *memRepo) fail() error {
	if m.unavailable {
		return fmt.Errorf("%w: store offline", faults.ErrStorageUnavailable)
	}
	return nil
}

func (m *memRepo) Append(_ context.Context, rec *domain.ScanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	cp := *rec
	for i, r := range m.recs {
		if r.ID == rec.ID {
			m.recs[i] = &cp
			return nil
		}
	}
	m.recs = append(m.recs, &cp)
	return nil
}

func (m *memRepo) Get(_ context.Context, id domain.ScanID) (*domain.ScanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return nil, err
	}
	for _, r := range m.recs {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: scan %s", faults.ErrNotFound, id)
}

func (m *memRepo) List(_ context.Context, limit int) ([]*domain.ScanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return nil, err
	}
	var out []*domain.ScanRecord
	for i := len(m.recs) - 1; i >= 0; i-- {
		cp := *m.recs[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memRepo) UpdateVerification(_ context.Context, id domain.ScanID, status domain.VerificationStatus, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	for _, r := range m.recs {
		if r.ID == id {
			r.VerificationStatus = status
			r.VerificationNote = note
			return nil
		}
	}
	return fmt.Errorf("%w: scan %s", faults.ErrNotFound, id)
}

func (m *memRepo) CountAll(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return 0, err
	}
	return len(m.recs), nil
}

func (m *memRepo) CountSince(_ context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range m.recs {
		if !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) CountThreats(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range m.recs {
		if r.RiskCategory.IsThreat() {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) SetPendingResult(_ context.Context, id domain.ScanID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	m.pending, m.hasPending = id, true
	return nil
}

func (m *memRepo) PopPendingResult(ctx context.Context) (*domain.ScanRecord, error) {
	m.mu.Lock()
	if err := m.fail(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if !m.hasPending {
		m.mu.Unlock()
		return nil, nil
	}
	id := m.pending
	m.hasPending = false
	m.mu.Unlock()
	return m.Get(ctx, id)
}

type memAlerts struct {
	mu   sync.Mutex
	list []*alerts.AlertRecord
}

func (m *memAlerts) Append(_ context.Context, a *alerts.AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = append(m.list, a)
	return nil
}

func (m *memAlerts) List(_ context.Context, limit int) ([]*alerts.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*alerts.AlertRecord
	for i := len(m.list) - 1; i >= 0; i-- {
		out = append(out, m.list[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memAlerts) MarkRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.list {
		if a.ID == id {
			a.Status = alerts.StatusRead
			return nil
		}
	}
	return fmt.Errorf("%w: alert %s", faults.ErrNotFound, id)
}

type stubAnalyzer struct {
	verdict *analysis.Verdict
	err     error
	last    analysis.Request
}

func (s *stubAnalyzer) Analyze(_ context.Context, req analysis.Request) (*analysis.Verdict, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	v := *s.verdict
	return &v, nil
}

type stubVerifier struct {
	res    *verification.Result
	err    error
	calls  int
	digest string
}

func (s *stubVerifier) Verify(_ context.Context, digest string) (*verification.Result, error) {
	s.calls++
	s.digest = digest
	if s.err != nil {
		return nil, s.err
	}
	r := *s.res
	return &r, nil
}

type harness struct {
	svc      *Service
	repo     *memRepo
	alerts   *memAlerts
	analyzer *stubAnalyzer
	verifier *stubVerifier
	clock    fixedClock
}

func newHarness() *harness {
	repo := &memRepo{}
	al := &memAlerts{}
	an := &stubAnalyzer{verdict: &analysis.Verdict{
		RiskScore:      10,
		Confidence:     0.9,
		Category:       "SAFE",
		Explanation:    []string{"nothing of note"},
		EvidenceDigest: "digest-1",
	}}
	ver := &stubVerifier{res: &verification.Result{Status: verification.StatusVerified}}
	clock := fixedClock{t: time.Date(2025, 6, 15, 10, 30, 0, 0, time.Local)}
	return &harness{
		svc: &Service{
			Repo:     repo,
			Alerts:   al,
			Analyzer: an,
			Verifier: ver,
			Fetcher:  nil,
			Engine:   &aggregate.Engine{Scans: repo, Alerts: al, Clock: clock},
			Clock:    clock,
			Log:      zap.NewNop(),
		},
		repo:     repo,
		alerts:   al,
		analyzer: an,
		verifier: ver,
		clock:    clock,
	}
}

func TestSubmitScanPersistsAndEscalates(t *testing.T) {
	h := newHarness()
	h.analyzer.verdict = &analysis.Verdict{
		RiskScore:      90,
		Confidence:     0.95,
		Category:       "SCAM",
		Explanation:    []string{"payment pressure", "spoofed sender"},
		EvidenceDigest: "digest-90",
	}

	rec, err := h.svc.SubmitScan(context.Background(), SubmitScanCommand{
		Type:    domain.TypeText,
		Content: "wire the money now",
		Label:   "Gmail",
	})
	if err != nil {
		t.Fatal(err)
	}

	if rec.RiskCategory != domain.CategoryScam {
		t.Errorf("category = %q", rec.RiskCategory)
	}
	if rec.VerificationStatus != domain.VerificationUnverified {
		t.Errorf("new records must start unverified, got %q", rec.VerificationStatus)
	}
	if !strings.HasSuffix(string(rec.ID), "-text") {
		t.Errorf("scan id %q must carry the content-type suffix", rec.ID)
	}
	if len(h.repo.recs) != 1 {
		t.Fatalf("repo holds %d records, want 1", len(h.repo.recs))
	}

	got, _ := h.alerts.List(context.Background(), 0)
	if len(got) != 1 {
		t.Fatalf("derived %d alerts, want 1", len(got))
	}
	if got[0].Severity != alerts.SeverityCritical {
		t.Errorf("severity = %q, want CRITICAL", got[0].Severity)
	}
	if got[0].ID != string(rec.ID)+"-alert" {
		t.Errorf("alert id = %q", got[0].ID)
	}
}

func TestSubmitScanAlertThresholds(t *testing.T) {
	cases := []struct {
		score     int
		wantCount int
		wantSev   alerts.Severity
	}{
		{50, 0, ""},
		{70, 1, alerts.SeverityHigh},
		{86, 1, alerts.SeverityCritical},
	}
	for _, tc := range cases {
		h := newHarness()
		h.analyzer.verdict.RiskScore = tc.score
		h.analyzer.verdict.Category = "SUSPICIOUS"

		if _, err := h.svc.SubmitScan(context.Background(), SubmitScanCommand{
			Type:    domain.TypeText,
			Content: "some flagged content",
			Label:   "Webpage",
		}); err != nil {
			t.Fatal(err)
		}

		got, _ := h.alerts.List(context.Background(), 0)
		if len(got) != tc.wantCount {
			t.Fatalf("score %d: %d alerts, want %d", tc.score, len(got), tc.wantCount)
		}
		if tc.wantCount == 1 && got[0].Severity != tc.wantSev {
			t.Errorf("score %d: severity %q, want %q", tc.score, got[0].Severity, tc.wantSev)
		}
	}
}

func TestSubmitScanAnalysisFailurePersistsNothing(t *testing.T) {
	h := newHarness()
	h.analyzer.err = errors.New("model timeout")

	_, err := h.svc.SubmitScan(context.Background(), SubmitScanCommand{
		Type:    domain.TypeText,
		Content: "anything at all",
	})
	if !errors.Is(err, faults.ErrRemoteUnavailable) {
		t.Fatalf("err = %v, want ErrRemoteUnavailable", err)
	}
	if len(h.repo.recs) != 0 {
		t.Error("failed analyses must not leave records behind")
	}
	if got, _ := h.alerts.List(context.Background(), 0); len(got) != 0 {
		t.Error("failed analyses must not derive alerts")
	}
}

func TestSubmitScanValidation(t *testing.T) {
	h := newHarness()

	cases := []SubmitScanCommand{
		{Type: domain.TypeText, Content: "   "},
		{Type: "pdf", Content: "x"},
		{Type: domain.TypeText, Content: strings.Repeat("a", 5001)},
	}
	for i, cmd := range cases {
		if _, err := h.svc.SubmitScan(context.Background(), cmd); !errors.Is(err, faults.ErrValidation) {
			t.Errorf("case %d: err = %v, want ErrValidation", i, err)
		}
	}
}

func TestSubmitScanNormalizesVerdict(t *testing.T) {
	h := newHarness()
	h.analyzer.verdict.Category = "REAL"
	h.analyzer.verdict.RiskScore = 150

	rec, err := h.svc.SubmitScan(context.Background(), SubmitScanCommand{
		Type:    domain.TypeImage,
		Content: "base64data",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.RiskCategory != domain.CategorySafe {
		t.Errorf("REAL must fold onto SAFE, got %q", rec.RiskCategory)
	}
	if rec.RiskScore != 100 {
		t.Errorf("score must clamp to 100, got %d", rec.RiskScore)
	}

	h.analyzer.verdict.Category = "GIBBERISH"
	h.analyzer.verdict.RiskScore = -5
	rec, err = h.svc.SubmitScan(context.Background(), SubmitScanCommand{
		Type:    domain.TypeImage,
		Content: "base64data",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.RiskCategory != domain.CategorySuspicious {
		t.Errorf("unknown categories must fold onto SUSPICIOUS, got %q", rec.RiskCategory)
	}
	if rec.RiskScore != 0 {
		t.Errorf("score must clamp to 0, got %d", rec.RiskScore)
	}
}

func TestVerifyHappyPath(t *testing.T) {
	h := newHarness()
	rec, err := h.svc.SubmitScan(context.Background(), SubmitScanCommand{
		Type:    domain.TypeText,
		Content: "content worth verifying",
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := h.svc.Verify(context.Background(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out.VerificationStatus != domain.VerificationVerified {
		t.Errorf("status = %q, want verified", out.VerificationStatus)
	}
	if h.verifier.digest != "digest-1" {
		t.Errorf("verifier called with digest %q", h.verifier.digest)
	}

	stored, _ := h.repo.Get(context.Background(), rec.ID)
	if stored.VerificationStatus != domain.VerificationVerified {
		t.Errorf("stored status = %q", stored.VerificationStatus)
	}
}

func TestVerifyFailedThenRetryCanVerify(t *testing.T) {
	h := newHarness()
	rec, _ := h.svc.SubmitScan(context.Background(), SubmitScanCommand{
		Type:    domain.TypeText,
		Content: "retryable evidence",
	})

	h.verifier.res = &verification.Result{Status: verification.StatusFailed, Message: "not anchored"}
	out, err := h.svc.Verify(context.Background(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out.VerificationStatus != domain.VerificationFailed {
		t.Fatalf("status = %q, want failed", out.VerificationStatus)
	}
	if out.VerificationNote != "not anchored" {
		t.Errorf("note = %q", out.VerificationNote)
	}

	// failed is not terminal
	h.verifier.res = &verification.Result{Status: verification.StatusVerified, TransactionID: "0xabc"}
	out, err = h.svc.Verify(context.Background(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out.VerificationStatus != domain.VerificationVerified {
		t.Errorf("retry status = %q, want verified", out.VerificationStatus)
	}
	if out.VerificationNote != "tx 0xabc" {
		t.Errorf("note = %q", out.VerificationNote)
	}
}

func TestVerifyTransportFailureRestoresPriorStatus(t *testing.T) {
	h := newHarness()
	rec, _ := h.svc.SubmitScan(context.Background(), SubmitScanCommand{
		Type:    domain.TypeText,
		Content: "verify me twice",
	})

	// establish verified
	if _, err := h.svc.Verify(context.Background(), rec.ID); err != nil {
		t.Fatal(err)
	}

	// transport failure on re-verify must not move the record off verified
	h.verifier.err = errors.New("ledger unreachable")
	_, err := h.svc.Verify(context.Background(), rec.ID)
	if !errors.Is(err, faults.ErrRemoteUnavailable) {
		t.Fatalf("err = %v, want ErrRemoteUnavailable", err)
	}
	stored, _ := h.repo.Get(context.Background(), rec.ID)
	if stored.VerificationStatus != domain.VerificationVerified {
		t.Errorf("status after transport failure = %q, want verified", stored.VerificationStatus)
	}
}

func TestVerifyFreshFailedVerdictDowngradesVerified(t *testing.T) {
	h := newHarness()
	rec, _ := h.svc.SubmitScan(context.Background(), SubmitScanCommand{
		Type:    domain.TypeText,
		Content: "previously verified",
	})
	if _, err := h.svc.Verify(context.Background(), rec.ID); err != nil {
		t.Fatal(err)
	}

	h.verifier.res = &verification.Result{Status: verification.StatusFailed}
	out, err := h.svc.Verify(context.Background(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out.VerificationStatus != domain.VerificationFailed {
		t.Errorf("an explicit fresh failed verdict must downgrade, got %q", out.VerificationStatus)
	}
}

func TestVerifyRecoversInterruptedPending(t *testing.T) {
	h := newHarness()
	rec, _ := h.svc.SubmitScan(context.Background(), SubmitScanCommand{
		Type:    domain.TypeText,
		Content: "workflow interrupted mid-flight",
	})

	// a crash after the pending write leaves the stored row pending; a later
	// verify request must be able to restart the workflow
	if err := h.repo.UpdateVerification(context.Background(), rec.ID, domain.VerificationPending, ""); err != nil {
		t.Fatal(err)
	}

	out, err := h.svc.Verify(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("verify from stale pending: %v", err)
	}
	if out.VerificationStatus != domain.VerificationVerified {
		t.Errorf("status = %q, want verified", out.VerificationStatus)
	}
}

func TestVerifyRequiresDigest(t *testing.T) {
	h := newHarness()
	h.analyzer.verdict.EvidenceDigest = ""
	rec, _ := h.svc.SubmitScan(context.Background(), SubmitScanCommand{
		Type:    domain.TypeText,
		Content: "no digest issued",
	})

	if _, err := h.svc.Verify(context.Background(), rec.ID); !errors.Is(err, faults.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
	if h.verifier.calls != 0 {
		t.Error("verifier must not be called without a digest")
	}
}

func TestStorageOutageDegradesToOverlay(t *testing.T) {
	h := newHarness()
	h.repo.unavailable = true

	rec, err := h.svc.SubmitScan(context.Background(), SubmitScanCommand{
		Type:    domain.TypeText,
		Content: "kept in memory for now",
	})
	if err != nil {
		t.Fatalf("a storage outage must not fail the scan: %v", err)
	}
	if !rec.Unsynced {
		t.Error("record must be flagged unsynced")
	}

	snap, err := h.svc.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Stale {
		t.Error("snapshot over an outage must be stale")
	}
	if len(snap.Scans) != 1 || snap.Scans[0].ID != rec.ID {
		t.Fatalf("overlay record missing from snapshot: %+v", snap.Scans)
	}

	// store comes back: the overlay flushes and the view is authoritative again
	h.repo.unavailable = false
	snap, err = h.svc.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.Stale {
		t.Error("snapshot must not be stale after recovery")
	}
	if len(h.repo.recs) != 1 {
		t.Fatalf("flushed %d records, want 1", len(h.repo.recs))
	}
	if snap.Stats.EvidenceRecords != 1 {
		t.Errorf("evidence records = %d, want 1", snap.Stats.EvidenceRecords)
	}
}

type stubFetcher struct {
	data        []byte
	contentType string
	err         error
}

func (s *stubFetcher) Fetch(context.Context, string) ([]byte, string, error) {
	return s.data, s.contentType, s.err
}

type memArtifacts struct {
	keys []string
}

func (m *memArtifacts) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	m.keys = append(m.keys, key)
	return "http://artifacts.local/" + key, nil
}

func TestScanArtifactSetsPendingResultOnce(t *testing.T) {
	h := newHarness()
	arts := &memArtifacts{}
	h.svc.Fetcher = &stubFetcher{data: []byte{0xff, 0xd8, 0xff}, contentType: "image/jpeg"}
	h.svc.Artifacts = arts

	rec, err := h.svc.ScanArtifact(context.Background(), "https://cdn.example.com/pic.jpg", "")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ContentType != domain.TypeImage {
		t.Errorf("content type = %q, want image", rec.ContentType)
	}
	if rec.Label != "Context Menu Image" {
		t.Errorf("label = %q", rec.Label)
	}
	if rec.ArtifactURL == "" {
		t.Error("artifact URL missing")
	}
	if len(arts.keys) != 1 {
		t.Fatalf("archived %d artifacts, want 1", len(arts.keys))
	}

	popped, err := h.svc.PopPendingResult(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if popped == nil || popped.ID != rec.ID {
		t.Fatalf("pop returned %+v, want the artifact scan", popped)
	}

	again, err := h.svc.PopPendingResult(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Error("a pending result must surface at most once")
	}
}

func TestTriggerEmergency(t *testing.T) {
	h := newHarness()

	alert, err := h.svc.TriggerEmergency(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if alert.Severity != alerts.SeverityCritical {
		t.Errorf("severity = %q, want CRITICAL", alert.Severity)
	}
	if alert.Type != "SOS EMERGENCY TRIGGERED" {
		t.Errorf("type = %q", alert.Type)
	}
	if alert.Source != "User Triggered SOS" {
		t.Errorf("source = %q", alert.Source)
	}

	// the companion forensic record is persisted and counts as a threat
	if len(h.repo.recs) != 1 {
		t.Fatalf("repo holds %d records, want 1", len(h.repo.recs))
	}
	rec := h.repo.recs[0]
	if !rec.RiskCategory.IsThreat() {
		t.Errorf("emergency record category = %q, must count as a threat", rec.RiskCategory)
	}
	if rec.EvidenceDigest != "" {
		t.Error("emergency records never carry an evidence digest")
	}
	if alert.ID != string(rec.ID)+"-alert" {
		t.Errorf("alert id = %q, want companion of %q", alert.ID, rec.ID)
	}
	if h.analyzer.last.Content != "" {
		t.Error("emergency trigger must not call the analysis service")
	}
}

func TestScanArtifactFetchFailure(t *testing.T) {
	h := newHarness()
	h.svc.Fetcher = &stubFetcher{err: fmt.Errorf("%w: origin gone", faults.ErrRemoteUnavailable)}

	_, err := h.svc.ScanArtifact(context.Background(), "https://cdn.example.com/pic.jpg", "")
	if !errors.Is(err, faults.ErrRemoteUnavailable) {
		t.Fatalf("err = %v, want ErrRemoteUnavailable", err)
	}
	if len(h.repo.recs) != 0 {
		t.Error("failed fetches must not leave records behind")
	}
}
