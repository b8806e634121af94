package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/fundflow/receipts/modules/imports/domain/row"
	"github.com/fundflow/receipts/modules/imports/infrastructure/persistence/models"
	"github.com/fundflow/receipts/pkg/composables"
)

var (
	ErrRowNotFound = fmt.Errorf("import row not found")
)

const (
	rowFindQuery = `
		SELECT job_id, row_index, raw_fields, status, resolved_email, artifact_key, error_code, updated_at
		FROM import_rows`
)

type RowRepository struct{}

func NewRowRepository() row.Repository {
	return &RowRepository{}
}

func (r *RowRepository) BulkCreate(ctx context.Context, jobID uuid.UUID, rows []row.RawRow) error {
	query := `
		INSERT INTO import_rows (job_id, row_index, raw_fields, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id, row_index) DO NOTHING
	`
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	for i, raw := range rows {
		fields, err := json.Marshal(raw.Fields)
		if err != nil {
			return errors.Wrap(err, "failed to marshal raw fields")
		}
		if _, err := tx.Exec(ctx, query, jobID.String(), i, fields, string(row.StatusPending)); err != nil {
			return errors.Wrapf(err, "failed to insert row %d", i)
		}
	}
	return nil
}

func (r *RowRepository) FindPendingFrom(ctx context.Context, jobID uuid.UUID, from, limit int) ([]*row.Row, error) {
	query := rowFindQuery + `
		WHERE job_id = $1 AND status = $2 AND row_index >= $3
		ORDER BY row_index
		LIMIT $4`
	return r.queryRows(ctx, query, jobID.String(), string(row.StatusPending), from, limit)
}

func (r *RowRepository) MinPendingIndex(ctx context.Context, jobID uuid.UUID) (int, bool, error) {
	query := `SELECT MIN(row_index) FROM import_rows WHERE job_id = $1 AND status = $2`
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, false, err
	}

	var min sql.NullInt64
	if err := tx.QueryRow(ctx, query, jobID.String(), string(row.StatusPending)).Scan(&min); err != nil {
		return 0, false, errors.Wrap(err, "failed to query min pending index")
	}
	if !min.Valid {
		return 0, false, nil
	}
	return int(min.Int64), true, nil
}

func (r *RowRepository) FindByJob(ctx context.Context, jobID uuid.UUID, status *row.Status) ([]*row.Row, error) {
	if status != nil {
		query := rowFindQuery + " WHERE job_id = $1 AND status = $2 ORDER BY row_index"
		return r.queryRows(ctx, query, jobID.String(), string(*status))
	}
	query := rowFindQuery + " WHERE job_id = $1 ORDER BY row_index"
	return r.queryRows(ctx, query, jobID.String())
}

func (r *RowRepository) MarkDone(ctx context.Context, jobID uuid.UUID, index int, resolvedEmail, artifactKey string) error {
	query := `
		UPDATE import_rows
		SET status = $1, resolved_email = $2, artifact_key = $3, error_code = NULL, updated_at = now()
		WHERE job_id = $4 AND row_index = $5
	`
	return r.exec(ctx, query, string(row.StatusDone), resolvedEmail, artifactKey, jobID.String(), index)
}

func (r *RowRepository) MarkError(ctx context.Context, jobID uuid.UUID, index int, code string) error {
	query := `
		UPDATE import_rows
		SET status = $1, error_code = $2, updated_at = now()
		WHERE job_id = $3 AND row_index = $4
	`
	return r.exec(ctx, query, string(row.StatusError), code, jobID.String(), index)
}

func (r *RowRepository) MarkNeedsInput(ctx context.Context, jobID uuid.UUID, index int, resolvedEmail string) error {
	query := `
		UPDATE import_rows
		SET status = $1, resolved_email = NULLIF($2, ''), error_code = $3, updated_at = now()
		WHERE job_id = $4 AND row_index = $5
	`
	return r.exec(ctx, query, string(row.StatusNeedsInput), resolvedEmail, row.CodeMissingEmail, jobID.String(), index)
}

func (r *RowRepository) ResetFailed(ctx context.Context, jobID uuid.UUID) (int, int, error) {
	query := `
		WITH reset AS (
			UPDATE import_rows
			SET status = $1, error_code = NULL, updated_at = now()
			WHERE job_id = $2 AND status IN ($3, $4)
			RETURNING row_index
		)
		SELECT COALESCE(MIN(row_index), 0), COUNT(*) FROM reset
	`
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, 0, err
	}

	var minIndex, count int
	if err := tx.QueryRow(
		ctx,
		query,
		string(row.StatusPending),
		jobID.String(),
		string(row.StatusError),
		string(row.StatusNeedsInput),
	).Scan(&minIndex, &count); err != nil {
		return 0, 0, errors.Wrap(err, "failed to reset failed rows")
	}
	return minIndex, count, nil
}

func (r *RowRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update row")
	}
	if tag.RowsAffected() == 0 {
		return ErrRowNotFound
	}
	return nil
}

func (r *RowRepository) queryRows(ctx context.Context, query string, args ...interface{}) ([]*row.Row, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute query")
	}
	defer rows.Close()

	var result []*row.Row
	for rows.Next() {
		var m models.ImportRow
		if err := rows.Scan(
			&m.JobID,
			&m.RowIndex,
			&m.RawFields,
			&m.Status,
			&m.ResolvedEmail,
			&m.ArtifactKey,
			&m.ErrorCode,
			&m.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan import row")
		}
		domainRow, err := toDomainRow(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, domainRow)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "row iteration error")
	}

	return result, nil
}

func toDomainRow(m *models.ImportRow) (*row.Row, error) {
	jobID, err := uuid.Parse(m.JobID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse row job id")
	}
	var fields map[string]string
	if err := json.Unmarshal(m.RawFields, &fields); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal raw fields")
	}
	return &row.Row{
		JobID:         jobID,
		RowIndex:      m.RowIndex,
		Raw:           row.RawRow{Fields: fields},
		Status:        row.Status(m.Status),
		ResolvedEmail: m.ResolvedEmail.String,
		ArtifactKey:   m.ArtifactKey.String,
		ErrorCode:     m.ErrorCode.String,
		UpdatedAt:     m.UpdatedAt,
	}, nil
}
