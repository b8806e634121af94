package receipt

import "context"

type Repository interface {
	// Upsert writes the receipt with last-write-wins semantics on
	// (period, member_id).
	Upsert(ctx context.Context, r *Receipt) error
	GetByKey(ctx context.Context, period int, memberID string) (*Receipt, error)
	FindByPeriod(ctx context.Context, period int) ([]*Receipt, error)
}
