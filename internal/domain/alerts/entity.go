package alerts

import (
	"fmt"
	"time"

	"github.com/vigil-sec/vigil/internal/domain/scans"
)

// Severity enum
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Status enum
type Status string

const (
	StatusUnread Status = "unread"
	StatusRead   Status = "read"
)

// AlertRecord is a derived, user-facing escalation of a high-risk scan.
type AlertRecord struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	Time        time.Time `json:"time"`
	Source      string    `json:"source"`
	Status      Status    `json:"status"`
}

// Risk-score thresholds for escalation.
const (
	criticalAbove = 85
	highAbove     = 60
)

// SeverityForScore maps a risk score to an alert severity. The second return
// is false when the score does not warrant an alert.
func SeverityForScore(score int) (Severity, bool) {
	switch {
	case score > criticalAbove:
		return SeverityCritical, true
	case score > highAbove:
		return SeverityHigh, true
	}
	return "", false
}

// Derive builds the escalation for a freshly persisted scan, or nil when the
// score is below threshold. Alerts are derived only at persist time, never
// retroactively from edits.
func Derive(rec *scans.ScanRecord) *AlertRecord {
	sev, ok := SeverityForScore(rec.RiskScore)
	if !ok {
		return nil
	}
	source := rec.Label
	if source == "" {
		source = "Unknown Source"
	}
	return &AlertRecord{
		ID:          string(rec.ID) + "-alert",
		Type:        fmt.Sprintf("%s DETECTED", rec.RiskCategory),
		Description: fmt.Sprintf("High risk content identified in %s scan.", rec.ContentType),
		Severity:    sev,
		Time:        rec.CreatedAt,
		Source:      source,
		Status:      StatusUnread,
	}
}
