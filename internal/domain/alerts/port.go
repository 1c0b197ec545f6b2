package alerts

import "context"

// Repository port (interface untuk persistence)
type Repository interface {
	Append(ctx context.Context, a *AlertRecord) error
	// List returns alerts newest-first.
	List(ctx context.Context, limit int) ([]*AlertRecord, error)
	MarkRead(ctx context.Context, id string) error
}
