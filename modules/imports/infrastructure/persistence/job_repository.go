package persistence

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/fundflow/receipts/modules/imports/domain/job"
	"github.com/fundflow/receipts/modules/imports/infrastructure/persistence/models"
	"github.com/fundflow/receipts/pkg/composables"
)

var (
	ErrJobNotFound = fmt.Errorf("import job not found")
)

const (
	jobFindQuery = `
		SELECT id, period, total_rows, processed_rows, ok_rows, failed_rows,
		       resume_cursor, status, phase, source_key, created_at, updated_at
		FROM import_jobs`
)

type JobRepository struct{}

func NewJobRepository() job.Repository {
	return &JobRepository{}
}

func (r *JobRepository) Create(ctx context.Context, j *job.Job) error {
	query := `
		INSERT INTO import_jobs (id, period, total_rows, processed_rows, ok_rows, failed_rows,
		                         resume_cursor, status, phase, source_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(
		ctx,
		query,
		j.ID.String(),
		j.Period,
		j.TotalRows,
		j.ProcessedRows,
		j.OKRows,
		j.FailedRows,
		j.ResumeCursor,
		string(j.Status),
		string(j.Phase),
		j.SourceKey,
		j.CreatedAt,
		j.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert import job")
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	jobs, err := r.queryJobs(ctx, jobFindQuery+" WHERE id = $1", id.String())
	if err != nil {
		return nil, err
	}

	if len(jobs) == 0 {
		return nil, ErrJobNotFound
	}

	return jobs[0], nil
}

func (r *JobRepository) MarkParsed(ctx context.Context, id uuid.UUID, totalRows int) error {
	query := `
		UPDATE import_jobs
		SET total_rows = $1, phase = $2, updated_at = now()
		WHERE id = $3 AND phase = $4
	`
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, query, totalRows, string(job.PhaseProcessing), id.String(), string(job.PhaseParsing))
	if err != nil {
		return errors.Wrap(err, "failed to mark job parsed")
	}
	return nil
}

func (r *JobRepository) MarkError(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, job.StatusError)
}

func (r *JobRepository) MarkDone(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, job.StatusDone)
}

func (r *JobRepository) AdvanceCursor(ctx context.Context, id uuid.UUID, cursor, okDelta, failedDelta int) error {
	// GREATEST keeps the cursor monotonic even if a redelivered message
	// replays an older batch; processed_rows tracks the cursor by definition.
	query := `
		UPDATE import_jobs
		SET resume_cursor = GREATEST(resume_cursor, $1),
		    processed_rows = GREATEST(resume_cursor, $1),
		    ok_rows = ok_rows + $2,
		    failed_rows = failed_rows + $3,
		    updated_at = now()
		WHERE id = $4
	`
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, query, cursor, okDelta, failedDelta, id.String())
	if err != nil {
		return errors.Wrap(err, "failed to advance job cursor")
	}
	return nil
}

func (r *JobRepository) ResetForRetry(ctx context.Context, id uuid.UUID, cursor, failedDelta int) error {
	query := `
		UPDATE import_jobs
		SET resume_cursor = LEAST(resume_cursor, $1),
		    processed_rows = LEAST(resume_cursor, $1),
		    failed_rows = GREATEST(failed_rows - $2, 0),
		    status = $3,
		    updated_at = now()
		WHERE id = $4
	`
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, query, cursor, failedDelta, string(job.StatusRunning), id.String())
	if err != nil {
		return errors.Wrap(err, "failed to reset job for retry")
	}
	return nil
}

func (r *JobRepository) setStatus(ctx context.Context, id uuid.UUID, status job.Status) error {
	query := `UPDATE import_jobs SET status = $1, updated_at = now() WHERE id = $2`
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, query, string(status), id.String())
	if err != nil {
		return errors.Wrap(err, "failed to update job status")
	}
	return nil
}

func (r *JobRepository) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*job.Job, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute query")
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		var m models.ImportJob
		if err := rows.Scan(
			&m.ID,
			&m.Period,
			&m.TotalRows,
			&m.ProcessedRows,
			&m.OKRows,
			&m.FailedRows,
			&m.ResumeCursor,
			&m.Status,
			&m.Phase,
			&m.SourceKey,
			&m.CreatedAt,
			&m.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan job row")
		}
		j, err := toDomainJob(&m)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "row iteration error")
	}

	return jobs, nil
}

func toDomainJob(m *models.ImportJob) (*job.Job, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse job id")
	}
	return &job.Job{
		ID:            id,
		Period:        m.Period,
		TotalRows:     m.TotalRows,
		ProcessedRows: m.ProcessedRows,
		OKRows:        m.OKRows,
		FailedRows:    m.FailedRows,
		ResumeCursor:  m.ResumeCursor,
		Status:        job.Status(m.Status),
		Phase:         job.Phase(m.Phase),
		SourceKey:     m.SourceKey,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}, nil
}
