package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/fundflow/receipts/modules/imports/domain/row"
	"github.com/fundflow/receipts/modules/imports/infrastructure/blob"
	"github.com/fundflow/receipts/modules/imports/infrastructure/persistence"
	"github.com/fundflow/receipts/modules/imports/services"
	"github.com/fundflow/receipts/pkg/composables"
	"github.com/fundflow/receipts/pkg/configuration"
	"github.com/fundflow/receipts/pkg/csvkit"
	"github.com/fundflow/receipts/pkg/eventbus"
	"github.com/fundflow/receipts/pkg/queue"
)

func importCmd() *cobra.Command {
	var (
		file   string
		period int
		apply  bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate a receipts CSV and optionally submit it as an import job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}

			if err := dryRun(cmd, data); err != nil {
				return err
			}
			if !apply {
				fmt.Fprintln(cmd.OutOrStdout(), "dry run only; pass --apply to submit")
				return nil
			}
			return submit(cmd.Context(), cmd, period, data)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "path to the CSV file")
	cmd.Flags().IntVar(&period, "period", 0, "target period (year)")
	cmd.Flags().BoolVar(&apply, "apply", false, "submit the job instead of just validating")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("period")

	return cmd
}

func dryRun(cmd *cobra.Command, data []byte) error {
	doc, err := csvkit.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode csv: %w", err)
	}
	if !doc.HasColumn(row.FieldMemberID) {
		return fmt.Errorf("csv is missing mandatory column %q", row.FieldMemberID)
	}
	if len(doc.Records) == 0 {
		return fmt.Errorf("csv has no data rows")
	}

	valid := 0
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for i, record := range doc.Records {
		if _, err := row.Parse(row.RawRow{Fields: record.Fields}); err != nil {
			fmt.Fprintf(w, "row %d\tline %d\t%v\n", i, record.Line, err)
			continue
		}
		valid++
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d rows, %d valid, %d invalid\n",
		len(doc.Records), valid, len(doc.Records)-valid)
	return nil
}

func submit(ctx context.Context, cmd *cobra.Command, period int, data []byte) error {
	if period < row.MinYear || period > row.MaxYear {
		return fmt.Errorf("period %d out of range", period)
	}

	conf := configuration.Use()
	defer conf.Unload()

	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	svc := services.NewImportService(
		persistence.NewJobRepository(),
		persistence.NewRowRepository(),
		blob.NewDiskStorage(conf.BlobsPath),
		queue.NewPublisher(),
		eventbus.NewEventPublisher(conf.Logger()),
	)

	j, err := svc.Submit(composables.WithPool(ctx, pool), period, data)
	if err != nil {
		return fmt.Errorf("submit import: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "submitted job %s for period %d\n", j.ID, j.Period)
	return nil
}
