package services

import (
	"bytes"
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fundflow/receipts/modules/imports/domain/job"
	"github.com/fundflow/receipts/modules/imports/domain/row"
	"github.com/fundflow/receipts/modules/imports/infrastructure/blob"
	"github.com/fundflow/receipts/pkg/composables"
	"github.com/fundflow/receipts/pkg/csvkit"
	"github.com/fundflow/receipts/pkg/eventbus"
	"github.com/fundflow/receipts/pkg/queue"
)

// ParseService decodes a job's source file into row records and hands the job
// to the scheduler.
type ParseService struct {
	jobs      job.Repository
	rows      row.Repository
	storage   blob.Storage
	publisher queue.Publisher
	events    eventbus.EventBusWithError
	inTx      func(context.Context, func(context.Context) error) error
}

func NewParseService(
	jobs job.Repository,
	rows row.Repository,
	storage blob.Storage,
	publisher queue.Publisher,
	events eventbus.EventBusWithError,
) *ParseService {
	return &ParseService{
		jobs:      jobs,
		rows:      rows,
		storage:   storage,
		publisher: publisher,
		events:    events,
		inTx:      composables.InTx,
	}
}

// Run decodes the source CSV for the given job. Missing mandatory columns or
// an empty file abort the whole job; these are input defects no retry can
// cure. Redelivery of a parse message after the phase already advanced is a
// no-op.
func (s *ParseService) Run(ctx context.Context, jobID uuid.UUID) error {
	logger := composables.UseLogger(ctx).WithField("job_id", jobID)

	j, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Terminal() || j.Phase != job.PhaseParsing {
		logger.WithFields(logrus.Fields{
			"status": j.Status,
			"phase":  j.Phase,
		}).Info("parse message ignored, job already past parsing")
		return nil
	}

	source, err := s.storage.Get(ctx, j.SourceKey)
	if err != nil {
		return err
	}

	doc, decodeErr := csvkit.Decode(bytes.NewReader(source))
	if decodeErr != nil || len(doc.Records) == 0 || !doc.HasColumn(row.FieldMemberID) {
		reason := "missing mandatory column " + row.FieldMemberID
		if decodeErr != nil {
			reason = decodeErr.Error()
		} else if len(doc.Records) == 0 {
			reason = "no data rows"
		}
		logger.WithField("reason", reason).Warn("fatal input, aborting job")

		if err := s.inTx(ctx, func(txCtx context.Context) error {
			return s.jobs.MarkError(txCtx, jobID)
		}); err != nil {
			return err
		}
		j.Status = job.StatusError
		s.events.Publish(job.FailedEvent{Result: *j, Reason: reason})
		return nil
	}

	raws := make([]row.RawRow, len(doc.Records))
	for i, record := range doc.Records {
		raws[i] = row.RawRow{Fields: record.Fields}
	}

	err = s.inTx(ctx, func(txCtx context.Context) error {
		if err := s.rows.BulkCreate(txCtx, jobID, raws); err != nil {
			return err
		}
		if err := s.jobs.MarkParsed(txCtx, jobID, len(raws)); err != nil {
			return err
		}
		return enqueueJobMessage(txCtx, s.publisher, TopicProcess, jobID)
	})
	if err != nil {
		return err
	}

	logger.WithField("total_rows", len(raws)).Info("source decoded")

	j.TotalRows = len(raws)
	j.Phase = job.PhaseProcessing
	s.events.Publish(job.ParsedEvent{Result: *j})
	return nil
}
