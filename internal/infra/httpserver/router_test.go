package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vigil-sec/vigil/internal/application"
	"github.com/vigil-sec/vigil/internal/application/aggregate"
	appblock "github.com/vigil-sec/vigil/internal/application/blocklist"
	appscans "github.com/vigil-sec/vigil/internal/application/scans"
	alertdomain "github.com/vigil-sec/vigil/internal/domain/alerts"
	"github.com/vigil-sec/vigil/internal/domain/analysis"
	domain "github.com/vigil-sec/vigil/internal/domain/scans"
	"github.com/vigil-sec/vigil/internal/domain/verification"
	"github.com/vigil-sec/vigil/internal/infra/db/sqlite"
	"github.com/vigil-sec/vigil/internal/messages"
)

type stubAnalyzer struct {
	verdict analysis.Verdict
	err     error
}

func (s *stubAnalyzer) Analyze(context.Context, analysis.Request) (*analysis.Verdict, error) {
	if s.err != nil {
		return nil, s.err
	}
	v := s.verdict
	return &v, nil
}

type stubVerifier struct{ res verification.Result }

func (s *stubVerifier) Verify(context.Context, string) (*verification.Result, error) {
	r := s.res
	return &r, nil
}

func newTestServer(t *testing.T, an *stubAnalyzer) *httptest.Server {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "vigil.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	scanRepo := sqlite.NewScanRepository(db)
	alertRepo := sqlite.NewAlertRepository(db)
	blockRepo := sqlite.NewBlocklistRepository(db)
	clock := application.SystemClock{}
	log := zap.NewNop()

	scansSvc := &appscans.Service{
		Repo:     scanRepo,
		Alerts:   alertRepo,
		Analyzer: an,
		Verifier: &stubVerifier{res: verification.Result{Status: verification.StatusVerified}},
		Engine:   &aggregate.Engine{Scans: scanRepo, Alerts: alertRepo, Clock: clock},
		Clock:    clock,
		Log:      log,
	}
	blockSvc := &appblock.Service{Repo: blockRepo, Clock: clock, Log: log}
	hub := NewHub(scansSvc, log)

	handler := NewRouter(scansSvc, blockSvc, hub, log, Options{})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestSubmitScanEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubAnalyzer{verdict: analysis.Verdict{
		RiskScore:      90,
		Confidence:     0.9,
		Category:       "SCAM",
		EvidenceDigest: "digest-x",
	}})

	resp := postJSON(t, srv.URL+"/v1/scans", map[string]string{
		"type":    "text",
		"content": "give me your password",
		"label":   "Webpage",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var rec domain.ScanRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if rec.RiskCategory != domain.CategoryScam || rec.RiskScore != 90 {
		t.Errorf("record = %+v", rec)
	}

	// the threat shows up in the snapshot with a derived alert
	sresp, err := http.Get(srv.URL + "/v1/snapshot")
	if err != nil {
		t.Fatal(err)
	}
	defer sresp.Body.Close()
	var snap aggregate.Snapshot
	if err := json.NewDecoder(sresp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Stats.EvidenceRecords != 1 || snap.Stats.ActiveThreats != 1 {
		t.Errorf("stats = %+v", snap.Stats)
	}
	if len(snap.Alerts) != 1 {
		t.Errorf("snapshot alerts = %d, want 1", len(snap.Alerts))
	}
}

func TestSubmitScanRejectsBadType(t *testing.T) {
	srv := newTestServer(t, &stubAnalyzer{})

	resp := postJSON(t, srv.URL+"/v1/scans", map[string]string{
		"type":    "pdf",
		"content": "x",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAnalysisOutageMapsToBadGateway(t *testing.T) {
	srv := newTestServer(t, &stubAnalyzer{err: fmt.Errorf("model down")})

	resp := postJSON(t, srv.URL+"/v1/scans", map[string]string{
		"type":    "text",
		"content": "anything",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestGetScanValidation(t *testing.T) {
	srv := newTestServer(t, &stubAnalyzer{})

	resp, err := http.Get(srv.URL + "/v1/scans/not-a-valid-id")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed id: status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/v1/scans/00000000-0000-0000-0000-000000000000-text")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing id: status = %d, want 404", resp.StatusCode)
	}
}

func TestPendingResultEmptyIsNoContent(t *testing.T) {
	srv := newTestServer(t, &stubAnalyzer{})

	resp, err := http.Get(srv.URL + "/v1/scans/pending-result")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
}

func TestBlocklistAndNavigationCheck(t *testing.T) {
	srv := newTestServer(t, &stubAnalyzer{})

	resp := postJSON(t, srv.URL+"/v1/blocklist", map[string]string{"target": "https://bad.example/phish"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("block status = %d", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/v1/navigate/check", map[string]any{
		"url": "http://bad.example/anything", "top_level": true,
	})
	defer resp.Body.Close()
	var d appblock.Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Error("blocked domain must not be allowed")
	}
	if d.RedirectTo != appblock.BlockedPath {
		t.Errorf("redirect = %q", d.RedirectTo)
	}

	// the redirect target renders
	presp, err := http.Get(srv.URL + "/blocked?domain=bad.example")
	if err != nil {
		t.Fatal(err)
	}
	defer presp.Body.Close()
	if presp.StatusCode != http.StatusOK {
		t.Errorf("blocked page status = %d", presp.StatusCode)
	}

	// sub-frame navigations pass through
	resp = postJSON(t, srv.URL+"/v1/navigate/check", map[string]any{
		"url": "http://bad.example/frame", "top_level": false,
	})
	defer resp.Body.Close()
	d = appblock.Decision{}
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Error("sub-frame navigation must never be intercepted")
	}
}

func TestEmergencyEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubAnalyzer{})

	resp := postJSON(t, srv.URL+"/v1/alerts/emergency", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var alert alertdomain.AlertRecord
	if err := json.NewDecoder(resp.Body).Decode(&alert); err != nil {
		t.Fatal(err)
	}
	if alert.Severity != alertdomain.SeverityCritical || alert.Type != "SOS EMERGENCY TRIGGERED" {
		t.Errorf("alert = %+v", alert)
	}

	// the companion record lands in the forensic log
	sresp, err := http.Get(srv.URL + "/v1/snapshot")
	if err != nil {
		t.Fatal(err)
	}
	defer sresp.Body.Close()
	var snap aggregate.Snapshot
	if err := json.NewDecoder(sresp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Stats.ActiveThreats != 1 || snap.Stats.EvidenceRecords != 1 {
		t.Errorf("stats = %+v", snap.Stats)
	}
}

func TestUnblockValidatesDomain(t *testing.T) {
	srv := newTestServer(t, &stubAnalyzer{})

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/blocklist/not_a_domain", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestObserverChannelAutoScan(t *testing.T) {
	srv := newTestServer(t, &stubAnalyzer{verdict: analysis.Verdict{
		RiskScore:      70,
		Category:       "SUSPICIOUS",
		EvidenceDigest: "digest-ws",
	}})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/observer"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	hello, err := messages.Marshal(1, messages.ActionHello, false, messages.Hello{PageURL: "https://example.com/"})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatal(err)
	}

	req, err := messages.Marshal(2, messages.ActionAutoScanText, true, messages.AutoScanText{
		Content: strings.Repeat("observed page text ", 5),
		Label:   "Webpage",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply messages.Envelope
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatal(err)
	}
	if reply.ID != 2 || !reply.Reply {
		t.Fatalf("unexpected reply envelope: %+v", reply)
	}

	var res messages.AutoScanResult
	if err := json.Unmarshal(reply.Payload, &res); err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("auto-scan failed: %s", res.Error)
	}
	if res.Result == nil || res.Result.RiskScore != 70 {
		t.Errorf("result = %+v", res.Result)
	}
	if res.Result.Source != "observer" {
		t.Errorf("source = %q, want observer", res.Result.Source)
	}
}
