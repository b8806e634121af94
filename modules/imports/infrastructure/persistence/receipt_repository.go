package persistence

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/fundflow/receipts/modules/imports/domain/receipt"
	"github.com/fundflow/receipts/modules/imports/infrastructure/persistence/models"
	"github.com/fundflow/receipts/pkg/composables"
	"github.com/fundflow/receipts/pkg/mapping"
)

var (
	ErrReceiptNotFound = fmt.Errorf("receipt not found")
)

const (
	receiptFindQuery = `
		SELECT period, member_id, display_name, amount_cents, issued_on,
		       artifact_key, status, last_error, updated_at
		FROM receipts`
)

type ReceiptRepository struct{}

func NewReceiptRepository() receipt.Repository {
	return &ReceiptRepository{}
}

func (r *ReceiptRepository) Upsert(ctx context.Context, rec *receipt.Receipt) error {
	// Last write wins on (period, member_id): replaying a row overwrites the
	// earlier fact rather than duplicating it.
	query := `
		INSERT INTO receipts (period, member_id, display_name, amount_cents, issued_on,
		                      artifact_key, status, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (period, member_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			amount_cents = EXCLUDED.amount_cents,
			issued_on    = EXCLUDED.issued_on,
			artifact_key = EXCLUDED.artifact_key,
			status       = EXCLUDED.status,
			last_error   = EXCLUDED.last_error,
			updated_at   = now()
	`
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(
		ctx,
		query,
		rec.Period,
		rec.MemberID,
		rec.DisplayName,
		rec.AmountCents,
		rec.IssuedOn,
		mapping.ValueToSQLNullString(rec.ArtifactKey),
		string(rec.Status),
		mapping.ValueToSQLNullString(rec.LastError),
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert receipt")
	}
	return nil
}

func (r *ReceiptRepository) GetByKey(ctx context.Context, period int, memberID string) (*receipt.Receipt, error) {
	receipts, err := r.queryReceipts(ctx, receiptFindQuery+" WHERE period = $1 AND member_id = $2", period, memberID)
	if err != nil {
		return nil, err
	}

	if len(receipts) == 0 {
		return nil, ErrReceiptNotFound
	}

	return receipts[0], nil
}

func (r *ReceiptRepository) FindByPeriod(ctx context.Context, period int) ([]*receipt.Receipt, error) {
	return r.queryReceipts(ctx, receiptFindQuery+" WHERE period = $1 ORDER BY member_id", period)
}

func (r *ReceiptRepository) queryReceipts(ctx context.Context, query string, args ...interface{}) ([]*receipt.Receipt, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute query")
	}
	defer rows.Close()

	var receipts []*receipt.Receipt
	for rows.Next() {
		var m models.Receipt
		if err := rows.Scan(
			&m.Period,
			&m.MemberID,
			&m.DisplayName,
			&m.AmountCents,
			&m.IssuedOn,
			&m.ArtifactKey,
			&m.Status,
			&m.LastError,
			&m.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan receipt row")
		}
		receipts = append(receipts, toDomainReceipt(&m))
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "row iteration error")
	}

	return receipts, nil
}

func toDomainReceipt(m *models.Receipt) *receipt.Receipt {
	return &receipt.Receipt{
		Period:      m.Period,
		MemberID:    m.MemberID,
		DisplayName: m.DisplayName,
		AmountCents: m.AmountCents,
		IssuedOn:    m.IssuedOn,
		ArtifactKey: m.ArtifactKey.String,
		Status:      receipt.Status(m.Status),
		LastError:   m.LastError.String,
		UpdatedAt:   m.UpdatedAt,
	}
}
