package main

import (
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/fundflow/receipts/modules/imports/domain/row"
	"github.com/fundflow/receipts/modules/imports/services"
	"github.com/fundflow/receipts/pkg/configuration"
)

func exportCmd() *cobra.Command {
	var (
		period int
		out    string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the receipt facts for a period as a spreadsheet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if period < row.MinYear || period > row.MaxYear {
				return fmt.Errorf("period %d out of range", period)
			}

			conf := configuration.Use()
			defer conf.Unload()

			pool, err := pgxpool.New(cmd.Context(), conf.Database.Opts)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer pool.Close()

			data, err := services.NewExportService(pool).ReceiptsXLSX(cmd.Context(), period)
			if err != nil {
				return fmt.Errorf("export receipts: %w", err)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(data))
			return nil
		},
	}

	cmd.Flags().IntVar(&period, "period", 0, "period (year) to export")
	cmd.Flags().StringVar(&out, "out", "receipts.xlsx", "output file")
	_ = cmd.MarkFlagRequired("period")

	return cmd
}
