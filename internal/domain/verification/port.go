package verification

import "context"

// Verdict statuses returned by the ledger collaborator.
const (
	StatusVerified = "verified"
	StatusFailed   = "failed"
)

// Result carries the ledger's answer. ExplorerURL and TransactionID are
// display-only metadata, never control flow.
type Result struct {
	Status        string `json:"status"`
	ExplorerURL   string `json:"explorerUrl,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Client checks whether an evidence digest is anchored on the remote ledger.
type Client interface {
	Verify(ctx context.Context, evidenceDigest string) (*Result, error)
}
