package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fundflow/receipts/modules/imports/infrastructure/blob"
	"github.com/fundflow/receipts/pkg/configuration"
)

func seedAssetsCmd() *cobra.Command {
	var (
		template string
		font     string
	)

	cmd := &cobra.Command{
		Use:   "seed-assets",
		Short: "Upload the receipt template and font into the object store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf := configuration.Use()
			defer conf.Unload()

			storage := blob.NewDiskStorage(conf.BlobsPath)

			for _, asset := range []struct {
				path string
				key  string
			}{
				{template, conf.Docgen.TemplateKey},
				{font, conf.Docgen.FontKey},
			} {
				data, err := os.ReadFile(asset.path)
				if err != nil {
					return fmt.Errorf("read %s: %w", asset.path, err)
				}
				if err := storage.Put(cmd.Context(), asset.key, data); err != nil {
					return fmt.Errorf("store %s: %w", asset.key, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s (%d bytes)\n", asset.key, len(data))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&template, "template", "", "path to the receipt PDF template")
	cmd.Flags().StringVar(&font, "font", "", "path to the TTF font")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("font")

	return cmd
}
