package aggregate

import (
	"context"
	"time"

	"github.com/vigil-sec/vigil/internal/application"
	"github.com/vigil-sec/vigil/internal/domain/alerts"
	"github.com/vigil-sec/vigil/internal/domain/scans"
)

// Stats is the derived summary over the full scan collection. All four
// figures are recomputed from stored records on every read; nothing here is
// separately persisted, so a reloaded store always rederives the same values.
type Stats struct {
	ScansToday      int `json:"scans_today"`
	ActiveThreats   int `json:"active_threats"`
	EvidenceRecords int `json:"evidence_records"`
	ProtectedUsers  int `json:"protected_users"`
}

// protectedUsers is a cosmetic display figure: a fixed product baseline plus
// a per-scan multiplier. It must never feed any other decision.
const (
	protectedUsersBaseline = 2800
	protectedUsersPerScan  = 4
)

// snapshotScanLimit caps the lightweight summary view. The canonical store is
// never truncated.
const snapshotScanLimit = 10

// Engine derives read models from the repositories. It holds no state of its
// own, which makes hydration a plain re-read.
type Engine struct {
	Scans  scans.Repository
	Alerts alerts.Repository
	Clock  application.Clock
}

// Snapshot is the read model consumed by the presentation surface.
type Snapshot struct {
	Stats  Stats                 `json:"stats"`
	Alerts []*alerts.AlertRecord `json:"alerts"`
	Scans  []*scans.ScanRecord   `json:"scans"`
	Stale  bool                  `json:"stale,omitempty"`
}

// Stats derives the aggregate figures from the current record collection and
// wall clock. Calling it twice with no intervening mutation yields identical
// output.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	total, err := e.Scans.CountAll(ctx)
	if err != nil {
		return Stats{}, err
	}
	today, err := e.Scans.CountSince(ctx, startOfDay(e.Clock.Now()))
	if err != nil {
		return Stats{}, err
	}
	threats, err := e.Scans.CountThreats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		ScansToday:      today,
		ActiveThreats:   threats,
		EvidenceRecords: total,
		ProtectedUsers:  protectedUsersBaseline + protectedUsersPerScan*today,
	}, nil
}

// Snapshot derives the full read model: stats plus the truncated recent-scan
// and alert views.
func (e *Engine) Snapshot(ctx context.Context) (*Snapshot, error) {
	stats, err := e.Stats(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := e.Scans.List(ctx, snapshotScanLimit)
	if err != nil {
		return nil, err
	}
	alertList, err := e.Alerts.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Stats: stats, Alerts: alertList, Scans: recent}, nil
}

// startOfDay truncates to local calendar-day start; scansToday compares by
// calendar-day equality in local time.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
