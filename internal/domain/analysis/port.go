package analysis

import (
	"context"

	"github.com/vigil-sec/vigil/internal/domain/scans"
)

// Request is one unit of content submitted for remote analysis. Content is
// raw text or base64 for binary types.
type Request struct {
	Type    scans.ContentType `json:"type"`
	Content string            `json:"content"`
	Label   string            `json:"label,omitempty"`
}

// Verdict is the analysis service's risk assessment. EvidenceDigest is an
// opaque token issued by the service; it is never computed locally.
type Verdict struct {
	RiskScore      int            `json:"riskScore"`
	Confidence     float64        `json:"confidence"`
	Category       string         `json:"category"`
	Explanation    []string       `json:"explanation"`
	EvidenceDigest string         `json:"evidenceDigest"`
	ModelDetails   map[string]any `json:"modelDetails,omitempty"`
}

// Client is the remote analysis collaborator.
type Client interface {
	Analyze(ctx context.Context, req Request) (*Verdict, error)
}
