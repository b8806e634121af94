package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "receipts-data",
		Short:         "Operational tooling for the receipts import pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(importCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(seedAssetsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
