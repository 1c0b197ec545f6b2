package scans

import (
	"time"
)

// ID tipe untuk ScanRecord
type ScanID string

// ContentType enum
type ContentType string

const (
	TypeText  ContentType = "text"
	TypeImage ContentType = "image"
	TypeVideo ContentType = "video"
	TypeAudio ContentType = "audio"
)

// RiskCategory enum, vocabulary as returned by the analysis service
type RiskCategory string

const (
	CategorySafe       RiskCategory = "SAFE"
	CategorySuspicious RiskCategory = "SUSPICIOUS"
	CategoryScam       RiskCategory = "SCAM"
	CategoryDeepfake   RiskCategory = "DEEPFAKE"
)

// IsThreat reports whether the category counts toward active threats.
func (c RiskCategory) IsThreat() bool { return c != CategorySafe && c != "" }

// VerificationStatus enum
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationPending    VerificationStatus = "pending"
	VerificationVerified   VerificationStatus = "verified"
	VerificationFailed     VerificationStatus = "failed"
)

// CanTransition enforces the verification state machine:
// unverified→pending→{verified,failed}; failed→pending on retry; a verified
// record may re-enter pending, but only a fresh remote failed verdict moves
// it away from verified afterwards. A record stuck in pending (coordinator
// restart mid-workflow) may re-enter pending; the workflow is single-writer.
func (s VerificationStatus) CanTransition(to VerificationStatus) bool {
	switch to {
	case VerificationPending:
		return s == VerificationUnverified || s == VerificationFailed ||
			s == VerificationVerified || s == VerificationPending
	case VerificationVerified, VerificationFailed:
		return s == VerificationPending
	case VerificationUnverified:
		// only while reverting an interrupted pending transition
		return s == VerificationPending
	}
	return false
}

// Aggregate Root: ScanRecord, one analyzed artifact in the evidence log.
type ScanRecord struct {
	ID                 ScanID             `json:"id"`
	Label              string             `json:"label"`
	ContentType        ContentType        `json:"content_type"`
	CreatedAt          time.Time          `json:"created_at"`
	RiskCategory       RiskCategory       `json:"risk_category"`
	RiskScore          int                `json:"risk_score"`
	Confidence         float64            `json:"confidence"`
	EvidenceDigest     string             `json:"evidence_digest,omitempty"`
	Explanation        []string           `json:"explanation,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	VerificationNote   string             `json:"verification_note,omitempty"`
	Source             string             `json:"source,omitempty"`
	ArtifactURL        string             `json:"artifact_url,omitempty"`

	// Unsynced marks a record held only in the in-memory read model after a
	// storage failure. Never persisted.
	Unsynced bool `json:"unsynced,omitempty"`
}
