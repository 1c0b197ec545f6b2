package scans

import (
	"context"
	"time"
)

// Repository port (interface untuk persistence).
// The coordinator is the only writer; last-write-wins per id.
type Repository interface {
	Append(ctx context.Context, rec *ScanRecord) error
	Get(ctx context.Context, id ScanID) (*ScanRecord, error)
	// List returns records newest-first. limit <= 0 means the full
	// forensic log; truncation is a view decision, never a store decision.
	List(ctx context.Context, limit int) ([]*ScanRecord, error)
	UpdateVerification(ctx context.Context, id ScanID, status VerificationStatus, note string) error

	CountAll(ctx context.Context) (int, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
	CountThreats(ctx context.Context) (int, error)

	// Pending-result marker for the context-menu flow. Pop clears the marker
	// so a result is surfaced at most once.
	SetPendingResult(ctx context.Context, id ScanID) error
	PopPendingResult(ctx context.Context) (*ScanRecord, error)
}

// ArtifactStore port (interface untuk penyimpanan artefak): archives the raw
// bytes of a scanned artifact and returns its URL.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Fetcher port: retrieves a remote artifact for the context-menu scan path.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (data []byte, contentType string, err error)
}
