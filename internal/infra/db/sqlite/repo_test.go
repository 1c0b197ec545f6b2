package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	domalerts "github.com/vigil-sec/vigil/internal/domain/alerts"
	domblock "github.com/vigil-sec/vigil/internal/domain/blocklist"
	"github.com/vigil-sec/vigil/internal/domain/faults"
	domain "github.com/vigil-sec/vigil/internal/domain/scans"
)

func openTestDB(t *testing.T) *ScanRepository {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "vigil.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewScanRepository(db)
}

func sampleRecord(id string, created time.Time) *domain.ScanRecord {
	return &domain.ScanRecord{
		ID:                 domain.ScanID(id),
		Label:              "Webpage",
		ContentType:        domain.TypeText,
		CreatedAt:          created,
		RiskCategory:       domain.CategorySuspicious,
		RiskScore:          70,
		Confidence:         0.8,
		EvidenceDigest:     "digest-" + id,
		Explanation:        []string{"odd urgency", "unusual sender"},
		VerificationStatus: domain.VerificationUnverified,
		Source:             "observer",
	}
}

func TestScanRepoRoundTrip(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	created := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	rec := sampleRecord("aaaa-text", created)
	if err := repo.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Label != rec.Label || got.RiskScore != rec.RiskScore || got.EvidenceDigest != rec.EvidenceDigest {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.Explanation) != 2 || got.Explanation[0] != "odd urgency" {
		t.Errorf("explanation = %v", got.Explanation)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, created)
	}
}

func TestScanRepoGetMissing(t *testing.T) {
	repo := openTestDB(t)
	if _, err := repo.Get(context.Background(), "nope-text"); !errors.Is(err, faults.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestScanRepoAppendIsLastWriteWins(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	rec := sampleRecord("aaaa-text", time.Now())
	if err := repo.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.RiskScore = 95
	rec.RiskCategory = domain.CategoryScam
	if err := repo.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RiskScore != 95 || got.RiskCategory != domain.CategoryScam {
		t.Errorf("upsert did not win: %+v", got)
	}
	if n, _ := repo.CountAll(ctx); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestScanRepoListNewestFirst(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"aaaa-text", "bbbb-text", "cccc-text"} {
		if err := repo.Append(ctx, sampleRecord(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	list, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("listed %d records", len(list))
	}
	if list[0].ID != "cccc-text" || list[2].ID != "aaaa-text" {
		t.Errorf("order = %s, %s, %s", list[0].ID, list[1].ID, list[2].ID)
	}

	limited, err := repo.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[0].ID != "cccc-text" {
		t.Errorf("limited list wrong: %v", limited)
	}
}

func TestScanRepoCounts(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	safe := sampleRecord("aaaa-text", base)
	safe.RiskCategory = domain.CategorySafe
	old := sampleRecord("bbbb-text", base.Add(-48*time.Hour))
	fresh := sampleRecord("cccc-text", base.Add(time.Hour))
	for _, r := range []*domain.ScanRecord{safe, old, fresh} {
		if err := repo.Append(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	if n, _ := repo.CountAll(ctx); n != 3 {
		t.Errorf("CountAll = %d", n)
	}
	if n, _ := repo.CountThreats(ctx); n != 2 {
		t.Errorf("CountThreats = %d", n)
	}
	if n, _ := repo.CountSince(ctx, base); n != 2 {
		t.Errorf("CountSince = %d", n)
	}
}

func TestScanRepoUpdateVerification(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	rec := sampleRecord("aaaa-text", time.Now())
	if err := repo.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateVerification(ctx, rec.ID, domain.VerificationVerified, "tx 0xabc"); err != nil {
		t.Fatal(err)
	}

	got, _ := repo.Get(ctx, rec.ID)
	if got.VerificationStatus != domain.VerificationVerified || got.VerificationNote != "tx 0xabc" {
		t.Errorf("verification not updated: %+v", got)
	}

	if err := repo.UpdateVerification(ctx, "missing-text", domain.VerificationPending, ""); !errors.Is(err, faults.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPendingResultPopsAtMostOnce(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	rec := sampleRecord("aaaa-image", time.Now())
	if err := repo.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetPendingResult(ctx, rec.ID); err != nil {
		t.Fatal(err)
	}

	got, err := repo.PopPendingResult(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != rec.ID {
		t.Fatalf("pop returned %+v", got)
	}

	again, err := repo.PopPendingResult(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Error("second pop must find nothing")
	}
}

func TestPendingResultNewerReplacesOlder(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	first := sampleRecord("aaaa-image", time.Now())
	second := sampleRecord("bbbb-image", time.Now())
	for _, r := range []*domain.ScanRecord{first, second} {
		if err := repo.Append(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.SetPendingResult(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetPendingResult(ctx, second.ID); err != nil {
		t.Fatal(err)
	}

	got, err := repo.PopPendingResult(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != second.ID {
		t.Errorf("pop returned %v, want the newer marker", got)
	}
}

func TestAlertRepo(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "vigil.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	repo := NewAlertRepository(db)
	ctx := context.Background()

	a := &domalerts.AlertRecord{
		ID:          "aaaa-text-alert",
		Type:        "SCAM DETECTED",
		Description: "High risk content identified in text scan.",
		Severity:    domalerts.SeverityCritical,
		Time:        time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC),
		Source:      "Gmail",
		Status:      domalerts.StatusUnread,
	}
	if err := repo.Append(ctx, a); err != nil {
		t.Fatal(err)
	}
	// duplicate derivation is a no-op
	if err := repo.Append(ctx, a); err != nil {
		t.Fatal(err)
	}

	list, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("listed %d alerts, want 1", len(list))
	}
	if list[0].Severity != domalerts.SeverityCritical || list[0].Status != domalerts.StatusUnread {
		t.Errorf("alert mismatch: %+v", list[0])
	}

	if err := repo.MarkRead(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	list, _ = repo.List(ctx, 0)
	if list[0].Status != domalerts.StatusRead {
		t.Errorf("status = %q, want read", list[0].Status)
	}

	if err := repo.MarkRead(ctx, "missing"); !errors.Is(err, faults.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBlocklistRepo(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "vigil.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	repo := NewBlocklistRepository(db)
	ctx := context.Background()

	e := &domblock.Entry{Domain: "bad.example", AddedAt: time.Now()}
	if err := repo.Add(ctx, e); err != nil {
		t.Fatal(err)
	}
	// at most one entry per domain
	if err := repo.Add(ctx, e); err != nil {
		t.Fatal(err)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Domain != "bad.example" {
		t.Fatalf("list = %v", list)
	}

	ok, err := repo.Contains(ctx, "bad.example")
	if err != nil || !ok {
		t.Errorf("Contains = %v, %v", ok, err)
	}
	ok, _ = repo.Contains(ctx, "good.example")
	if ok {
		t.Error("unexpected membership")
	}

	if err := repo.Remove(ctx, "bad.example"); err != nil {
		t.Fatal(err)
	}
	ok, _ = repo.Contains(ctx, "bad.example")
	if ok {
		t.Error("entry survived removal")
	}
}
