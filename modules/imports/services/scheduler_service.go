package services

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fundflow/receipts/modules/imports/domain/job"
	"github.com/fundflow/receipts/modules/imports/domain/receipt"
	"github.com/fundflow/receipts/modules/imports/domain/row"
	"github.com/fundflow/receipts/modules/imports/infrastructure/blob"
	"github.com/fundflow/receipts/modules/imports/infrastructure/directory"
	"github.com/fundflow/receipts/modules/imports/infrastructure/docgen"
	"github.com/fundflow/receipts/pkg/composables"
	"github.com/fundflow/receipts/pkg/eventbus"
	"github.com/fundflow/receipts/pkg/queue"
)

// SchedulerConfig bounds one invocation. BatchSize is tens, not hundreds: a
// full batch plus its directory calls must fit inside the dispatch timeout.
type SchedulerConfig struct {
	BatchSize           int
	TimeBudget          time.Duration
	DirectoryCallBudget int
}

// ArtifactGenerator renders the receipt document for one resolved row.
type ArtifactGenerator interface {
	Generate(ctx context.Context, fields docgen.Fields) ([]byte, error)
}

// SchedulerService drains one job's pending rows in bounded invocations.
// Each invocation claims a slice of rows at the resume cursor, processes them
// sequentially under a wall-clock and call budget, persists progress and
// either re-enqueues itself or finalizes the job.
//
// Two invocations for the same job may overlap after a redelivery and
// double-process rows; the receipt upsert makes that harmless. See DESIGN.md.
type SchedulerService struct {
	cfg       SchedulerConfig
	jobs      job.Repository
	rows      row.Repository
	receipts  receipt.Repository
	dir       directory.Client
	generator ArtifactGenerator
	storage   blob.Storage
	publisher queue.Publisher
	events    eventbus.EventBusWithError

	now  func() time.Time
	inTx func(context.Context, func(context.Context) error) error
}

func NewSchedulerService(
	cfg SchedulerConfig,
	jobs job.Repository,
	rows row.Repository,
	receipts receipt.Repository,
	dir directory.Client,
	generator ArtifactGenerator,
	storage blob.Storage,
	publisher queue.Publisher,
	events eventbus.EventBusWithError,
) *SchedulerService {
	return &SchedulerService{
		cfg:       cfg,
		jobs:      jobs,
		rows:      rows,
		receipts:  receipts,
		dir:       dir,
		generator: generator,
		storage:   storage,
		publisher: publisher,
		events:    events,
		now:       time.Now,
		inTx:      composables.InTx,
	}
}

type rowOutcome int

const (
	outcomeOK rowOutcome = iota
	outcomeFailed
	// outcomeSkipped leaves the row PENDING: a transient lookup failure or an
	// exhausted budget. The min-pending scan picks it up next invocation.
	outcomeSkipped
	outcomeStop
)

// RunOnce executes one scheduler invocation for the job. Returning an error
// nacks the message, so the queue redelivers with backoff; returning nil acks
// it, with any remaining work carried by the continuation message.
func (s *SchedulerService) RunOnce(ctx context.Context, jobID uuid.UUID) error {
	m := getImporterMetrics()
	invocationStart := time.Now()
	err := s.runOnce(ctx, jobID)
	m.invocationDuration.Observe(time.Since(invocationStart).Seconds())
	if err != nil {
		m.invocationsTotal.WithLabelValues("error").Inc()
	} else {
		m.invocationsTotal.WithLabelValues("ok").Inc()
	}
	return err
}

func (s *SchedulerService) runOnce(ctx context.Context, jobID uuid.UUID) error {
	logger := composables.UseLogger(ctx).WithField("job_id", jobID)
	started := s.now()

	j, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Terminal() {
		logger.WithField("status", j.Status).Info("process message ignored, job already terminal")
		return nil
	}
	if j.Phase != job.PhaseProcessing {
		logger.WithField("phase", j.Phase).Warn("process message ignored, job not yet parsed")
		return nil
	}

	batch, err := s.claim(ctx, j)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return s.finalize(ctx, logger, j)
	}

	memo := directory.NewMemoized(s.dir)
	budget := NewBudget(s.cfg.DirectoryCallBudget)

	var ok, failed, counted int
	maxTouched := -1
	for _, r := range batch {
		if s.now().Sub(started) > s.cfg.TimeBudget {
			logger.WithField("row_index", r.RowIndex).Info("time budget reached, leaving rest pending")
			break
		}

		outcome, err := s.processRow(ctx, logger, j, r, memo, budget)
		if err != nil {
			// Persist what this invocation already finished before bailing.
			if persistErr := s.persistProgress(ctx, j, maxTouched, ok, failed, counted); persistErr != nil {
				logger.WithError(persistErr).Error("failed to persist progress")
			}
			return err
		}

		getImporterMetrics().observeRow(outcome)
		switch outcome {
		case outcomeOK:
			ok++
			counted++
			maxTouched = r.RowIndex
		case outcomeFailed:
			failed++
			counted++
			maxTouched = r.RowIndex
		case outcomeSkipped:
			// Stays PENDING and uncounted.
		case outcomeStop:
			// Budget exhausted before the row started.
		}
		if outcome == outcomeStop {
			break
		}
	}

	if err := s.persistProgress(ctx, j, maxTouched, ok, failed, counted); err != nil {
		return err
	}

	_, pending, err := s.rows.MinPendingIndex(ctx, jobID)
	if err != nil {
		return err
	}
	if !pending {
		return s.finalize(ctx, logger, j)
	}

	logger.WithFields(logrus.Fields{
		"ok":     ok,
		"failed": failed,
		"cursor": maxTouched + 1,
	}).Info("batch processed, continuing")
	return s.inTx(ctx, func(txCtx context.Context) error {
		return enqueueJobMessage(txCtx, s.publisher, TopicProcess, jobID)
	})
}

// claim picks the next slice of pending rows at or after the cursor, falling
// back to the lowest pending index anywhere when the cursor has drifted past
// rows left PENDING by an earlier partial failure.
func (s *SchedulerService) claim(ctx context.Context, j *job.Job) ([]*row.Row, error) {
	batch, err := s.rows.FindPendingFrom(ctx, j.ID, j.ResumeCursor, s.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	if len(batch) > 0 {
		return batch, nil
	}

	minIndex, found, err := s.rows.MinPendingIndex(ctx, j.ID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return s.rows.FindPendingFrom(ctx, j.ID, minIndex, s.cfg.BatchSize)
}

func (s *SchedulerService) processRow(
	ctx context.Context,
	logger *logrus.Entry,
	j *job.Job,
	r *row.Row,
	memo *directory.Memoized,
	budget *Budget,
) (rowOutcome, error) {
	rowLogger := logger.WithField("row_index", r.RowIndex)

	parsed, err := row.Parse(r.Raw)
	if err != nil {
		// Malformed input never reaches the directory, so it costs no budget.
		rowLogger.WithField("reason", err.Error()).Info("row failed validation")
		return outcomeFailed, s.markFailed(ctx, j, r, nil, row.CodeInvalidRow, err.Error())
	}

	cached := memo.Cached(parsed.MemberID)
	if !cached && !budget.Take() {
		rowLogger.Info("directory call budget exhausted, leaving row pending")
		return outcomeStop, nil
	}

	profile, err := memo.Resolve(ctx, parsed.MemberID)
	if !cached {
		getImporterMetrics().directoryCalls.WithLabelValues(resolveResult(err)).Inc()
	}
	var transient *directory.TransientError
	switch {
	case errors.As(err, &transient):
		rowLogger.WithError(err).Warn("transient directory failure, row stays pending")
		return outcomeSkipped, nil
	case errors.Is(err, directory.ErrMemberNotFound):
		rowLogger.Info("member not found in directory")
		return outcomeFailed, s.markFailed(ctx, j, r, parsed, row.CodeMemberNotFound, "member not found")
	case err != nil:
		rowLogger.WithError(err).Warn("directory lookup failed, row stays pending")
		return outcomeSkipped, nil
	}

	if profile.Email == "" {
		rowLogger.Info("member has no contact email")
		return outcomeFailed, s.markNeedsInput(ctx, j, r, parsed, profile)
	}

	// Tag write-back is best effort; the artifact is the higher-value side
	// effect and proceeds regardless.
	tag := receiptTag(parsed.Year)
	if err := memo.WriteTags(ctx, parsed.MemberID, appendTag(profile.Tags, tag)); err != nil {
		rowLogger.WithError(err).Warn("tag write-back failed")
	}

	artifact, err := s.generator.Generate(ctx, docgen.Fields{
		Name:        profile.DisplayName,
		Period:      parsed.Year,
		AmountCents: parsed.AmountCents,
		Date:        s.now(),
	})
	var assetErr *docgen.AssetError
	if errors.As(err, &assetErr) {
		// Without the template nothing in this invocation can proceed. The
		// job stays RUNNING and the redelivered message retries later.
		return outcomeStop, err
	}
	if err != nil {
		rowLogger.WithError(err).Error("document generation failed")
		return outcomeFailed, s.markFailed(ctx, j, r, parsed, row.CodeGeneration, err.Error())
	}

	artifactKey := receipt.ArtifactKey(parsed.Year, parsed.MemberID)
	if err := s.storage.Put(ctx, artifactKey, artifact); err != nil {
		rowLogger.WithError(err).Error("artifact store failed")
		return outcomeFailed, s.markFailed(ctx, j, r, parsed, row.CodeArtifactStore, err.Error())
	}

	err = s.inTx(ctx, func(txCtx context.Context) error {
		if err := s.receipts.Upsert(txCtx, &receipt.Receipt{
			Period:      parsed.Year,
			MemberID:    parsed.MemberID,
			DisplayName: profile.DisplayName,
			AmountCents: parsed.AmountCents,
			IssuedOn:    s.now(),
			ArtifactKey: artifactKey,
			Status:      receipt.StatusIssued,
		}); err != nil {
			return err
		}
		return s.rows.MarkDone(txCtx, j.ID, r.RowIndex, profile.Email, artifactKey)
	})
	if err != nil {
		return outcomeStop, err
	}
	return outcomeOK, nil
}

// markFailed records the row error and, when the member id is known, a failed
// receipt so the dashboard shows why the row failed.
func (s *SchedulerService) markFailed(
	ctx context.Context,
	j *job.Job,
	r *row.Row,
	parsed *row.ParsedRow,
	code string,
	reason string,
) error {
	return s.inTx(ctx, func(txCtx context.Context) error {
		if err := s.rows.MarkError(txCtx, j.ID, r.RowIndex, code); err != nil {
			return err
		}
		if parsed == nil {
			return nil
		}
		return s.receipts.Upsert(txCtx, &receipt.Receipt{
			Period:      parsed.Year,
			MemberID:    parsed.MemberID,
			AmountCents: parsed.AmountCents,
			IssuedOn:    s.now(),
			Status:      receipt.StatusFailed,
			LastError:   reason,
		})
	})
}

func (s *SchedulerService) markNeedsInput(
	ctx context.Context,
	j *job.Job,
	r *row.Row,
	parsed *row.ParsedRow,
	profile *directory.Profile,
) error {
	return s.inTx(ctx, func(txCtx context.Context) error {
		if err := s.rows.MarkNeedsInput(txCtx, j.ID, r.RowIndex, profile.Email); err != nil {
			return err
		}
		return s.receipts.Upsert(txCtx, &receipt.Receipt{
			Period:      parsed.Year,
			MemberID:    parsed.MemberID,
			DisplayName: profile.DisplayName,
			AmountCents: parsed.AmountCents,
			IssuedOn:    s.now(),
			Status:      receipt.StatusMissingContact,
			LastError:   row.CodeMissingEmail,
		})
	})
}

// persistProgress advances the cursor past the highest counted row and folds
// ok/failed into the accumulated counters. Rows left PENDING below the new
// cursor are recovered by the min-pending scan.
func (s *SchedulerService) persistProgress(ctx context.Context, j *job.Job, maxTouched, ok, failed, counted int) error {
	if counted == 0 {
		return nil
	}
	cursor := maxTouched + 1
	err := s.inTx(ctx, func(txCtx context.Context) error {
		return s.jobs.AdvanceCursor(txCtx, j.ID, cursor, ok, failed)
	})
	if err != nil {
		return err
	}
	if cursor > j.ResumeCursor {
		j.ResumeCursor = cursor
		j.ProcessedRows = cursor
	}
	j.OKRows += ok
	j.FailedRows += failed
	return nil
}

// finalize pushes the cursor to the end and marks the job DONE. The cursor
// write keeps resume_cursor == total_rows even when an overlapping invocation
// finished the remaining rows.
func (s *SchedulerService) finalize(ctx context.Context, logger *logrus.Entry, j *job.Job) error {
	err := s.inTx(ctx, func(txCtx context.Context) error {
		if err := s.jobs.AdvanceCursor(txCtx, j.ID, j.TotalRows, 0, 0); err != nil {
			return err
		}
		return s.jobs.MarkDone(txCtx, j.ID)
	})
	if err != nil {
		return err
	}

	done, err := s.jobs.GetByID(ctx, j.ID)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"total":  done.TotalRows,
		"ok":     done.OKRows,
		"failed": done.FailedRows,
	}).Info("job complete")
	s.events.Publish(job.CompletedEvent{Result: *done})
	return nil
}

func resolveResult(err error) string {
	var transient *directory.TransientError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &transient):
		return "transient"
	case errors.Is(err, directory.ErrMemberNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func receiptTag(period int) string {
	return "receipt:" + strconv.Itoa(period)
}

func appendTag(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}
