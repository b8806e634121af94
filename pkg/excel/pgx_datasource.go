package excel

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxDataSource streams a SQL result set into the exporter.
type PgxDataSource struct {
	pool  *pgxpool.Pool
	query string
	args  []any

	sheetName string
	rows      pgx.Rows
	headers   []string
}

func NewPgxDataSource(pool *pgxpool.Pool, query string, args ...any) *PgxDataSource {
	return &PgxDataSource{pool: pool, query: query, args: args}
}

func (ds *PgxDataSource) WithSheetName(name string) *PgxDataSource {
	ds.sheetName = name
	return ds
}

func (ds *PgxDataSource) SheetName() string {
	return ds.sheetName
}

func (ds *PgxDataSource) Headers() []string {
	return ds.headers
}

// Open must be called before Headers/Next.
func (ds *PgxDataSource) Open(ctx context.Context) error {
	rows, err := ds.pool.Query(ctx, ds.query, ds.args...)
	if err != nil {
		return fmt.Errorf("query data source: %w", err)
	}
	ds.rows = rows
	fields := rows.FieldDescriptions()
	ds.headers = make([]string, len(fields))
	for i, f := range fields {
		ds.headers[i] = f.Name
	}
	return nil
}

func (ds *PgxDataSource) Next(_ context.Context) ([]any, error) {
	if ds.rows == nil {
		return nil, fmt.Errorf("data source not opened")
	}
	if !ds.rows.Next() {
		if err := ds.rows.Err(); err != nil {
			return nil, err
		}
		ds.rows.Close()
		return nil, nil
	}
	return ds.rows.Values()
}
