package row

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// BulkCreate inserts rows with dense indexes [0, len(rows)). Re-running
	// the same insert is a no-op for rows that already exist, so a redelivered
	// parse message cannot resurrect or duplicate rows.
	BulkCreate(ctx context.Context, jobID uuid.UUID, rows []RawRow) error
	// FindPendingFrom returns up to limit PENDING rows with index >= from,
	// ordered by index ascending.
	FindPendingFrom(ctx context.Context, jobID uuid.UUID, from, limit int) ([]*Row, error)
	// MinPendingIndex reports the lowest PENDING index anywhere in the job.
	// The second return is false when no PENDING rows remain.
	MinPendingIndex(ctx context.Context, jobID uuid.UUID) (int, bool, error)
	FindByJob(ctx context.Context, jobID uuid.UUID, status *Status) ([]*Row, error)
	MarkDone(ctx context.Context, jobID uuid.UUID, index int, resolvedEmail, artifactKey string) error
	MarkError(ctx context.Context, jobID uuid.UUID, index int, code string) error
	MarkNeedsInput(ctx context.Context, jobID uuid.UUID, index int, resolvedEmail string) error
	// ResetFailed flips ERROR and NEEDS_INPUT rows back to PENDING so the
	// scheduler re-attempts them. Returns the minimum reset index and the
	// number of rows reset.
	ResetFailed(ctx context.Context, jobID uuid.UUID) (int, int, error)
}
