package job

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, j *Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)
	// MarkParsed records the decoded row count and moves the job into the
	// processing phase. Idempotent: a redelivered parse message observes the
	// phase already advanced and leaves the job untouched.
	MarkParsed(ctx context.Context, id uuid.UUID, totalRows int) error
	MarkError(ctx context.Context, id uuid.UUID) error
	MarkDone(ctx context.Context, id uuid.UUID) error
	// AdvanceCursor moves resume_cursor forward (never backward) and folds the
	// batch outcome into the counters. processed_rows is kept equal to the
	// cursor so a crash between row updates and this write self-corrects on
	// the next invocation.
	AdvanceCursor(ctx context.Context, id uuid.UUID, cursor, okDelta, failedDelta int) error
	// ResetForRetry rewinds the cursor for re-dispatched failed rows and
	// subtracts them from the failed counter.
	ResetForRetry(ctx context.Context, id uuid.UUID, cursor, failedDelta int) error
}
