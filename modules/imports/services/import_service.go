package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fundflow/receipts/modules/imports/domain/job"
	"github.com/fundflow/receipts/modules/imports/domain/row"
	"github.com/fundflow/receipts/modules/imports/infrastructure/blob"
	"github.com/fundflow/receipts/pkg/composables"
	"github.com/fundflow/receipts/pkg/eventbus"
	"github.com/fundflow/receipts/pkg/queue"
)

// Business rejections for the retry endpoint.
var (
	ErrNoFailedRows   = fmt.Errorf("job has no failed rows")
	ErrJobNotFinished = fmt.Errorf("job is still running")
)

// ImportService owns the job lifecycle around the scheduler: submission,
// status reads, row listings and targeted retries of failed rows.
type ImportService struct {
	jobs      job.Repository
	rows      row.Repository
	storage   blob.Storage
	publisher queue.Publisher
	events    eventbus.EventBusWithError
	inTx      func(context.Context, func(context.Context) error) error
}

func NewImportService(
	jobs job.Repository,
	rows row.Repository,
	storage blob.Storage,
	publisher queue.Publisher,
	events eventbus.EventBusWithError,
) *ImportService {
	return &ImportService{
		jobs:      jobs,
		rows:      rows,
		storage:   storage,
		publisher: publisher,
		events:    events,
		inTx:      composables.InTx,
	}
}

func sourceKey(jobID uuid.UUID) string {
	return fmt.Sprintf("imports/%s/source.csv", jobID)
}

// Submit stores the raw CSV, creates the job in the parsing phase and
// schedules decoding. The job record and its first message commit together.
func (s *ImportService) Submit(ctx context.Context, period int, csvData []byte) (*job.Job, error) {
	j := job.New(period, "")
	j.SourceKey = sourceKey(j.ID)

	if err := s.storage.Put(ctx, j.SourceKey, csvData); err != nil {
		return nil, err
	}

	err := s.inTx(ctx, func(txCtx context.Context) error {
		if err := s.jobs.Create(txCtx, j); err != nil {
			return err
		}
		return enqueueJobMessage(txCtx, s.publisher, TopicParse, j.ID)
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(job.SubmittedEvent{Result: *j})
	return j, nil
}

func (s *ImportService) GetJob(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	return s.jobs.GetByID(ctx, id)
}

func (s *ImportService) Rows(ctx context.Context, id uuid.UUID, status *row.Status) ([]*row.Row, error) {
	if _, err := s.jobs.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.rows.FindByJob(ctx, id, status)
}

// Retry flips every ERROR and NEEDS_INPUT row back to PENDING, rewinds the
// cursor to the earliest of them and re-schedules processing. The whole file
// is never re-parsed. Only finished jobs can be retried.
func (s *ImportService) Retry(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	j, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !j.Terminal() {
		return nil, ErrJobNotFinished
	}

	err = s.inTx(ctx, func(txCtx context.Context) error {
		minIndex, count, err := s.rows.ResetFailed(txCtx, id)
		if err != nil {
			return err
		}
		if count == 0 {
			return ErrNoFailedRows
		}
		if err := s.jobs.ResetForRetry(txCtx, id, minIndex, count); err != nil {
			return err
		}
		return enqueueJobMessage(txCtx, s.publisher, TopicProcess, id)
	})
	if err != nil {
		return nil, err
	}

	return s.jobs.GetByID(ctx, id)
}
