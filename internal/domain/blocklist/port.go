package blocklist

import "context"

// Repository port (interface untuk persistence)
type Repository interface {
	// Add upserts by domain; re-adding an existing domain is a no-op.
	Add(ctx context.Context, e *Entry) error
	Remove(ctx context.Context, domain string) error
	List(ctx context.Context) ([]*Entry, error)
	Contains(ctx context.Context, domain string) (bool, error)
}
