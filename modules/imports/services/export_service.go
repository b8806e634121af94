package services

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/fundflow/receipts/pkg/excel"
)

const receiptExportQuery = `
	SELECT member_id, display_name, amount_cents, issued_on, status, last_error, artifact_key
	FROM receipts
	WHERE period = $1
	ORDER BY member_id`

// ExportService renders the receipt fact table for a period as a spreadsheet.
type ExportService struct {
	pool     *pgxpool.Pool
	exporter *excel.Exporter
}

func NewExportService(pool *pgxpool.Pool) *ExportService {
	return &ExportService{
		pool:     pool,
		exporter: excel.NewExporter(),
	}
}

func (s *ExportService) ReceiptsXLSX(ctx context.Context, period int) ([]byte, error) {
	ds := excel.NewPgxDataSource(s.pool, receiptExportQuery, period).
		WithSheetName("Receipts")
	if err := ds.Open(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to open receipts export")
	}
	out, err := s.exporter.Export(ctx, ds)
	if err != nil {
		return nil, errors.Wrap(err, "failed to export receipts")
	}
	return out, nil
}
