package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civsource/parisbudget/internal/dataset"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "Inspect the data directory",
}

var datasetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available years per dataset family",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		store := dataset.NewStore(settings.DataPath())

		fmt.Printf("data directory: %s\n", store.Root())
		for _, fam := range dataset.Families() {
			years, err := store.Years(fam)
			if err != nil {
				return err
			}
			if len(years) == 0 {
				fmt.Printf("  %-16s (none)\n", fam)
				continue
			}
			fmt.Printf("  %-16s %v\n", fam, years)
		}
		return nil
	},
}

var datasetsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load every fixture and report failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		store := dataset.NewStore(settings.DataPath())

		summary, err := store.Preload(cmd.Context())
		if err != nil {
			return err
		}

		logger.Info("validation finished",
			zap.Int("loaded", summary.Loaded),
			zap.Int("skipped", summary.Skipped),
			zap.Duration("elapsed", summary.Elapsed))

		if len(summary.Failed) == 0 {
			fmt.Printf("ok: %d fixtures loaded, %d absent\n", summary.Loaded, summary.Skipped)
			return nil
		}
		for _, f := range summary.Failed {
			fmt.Printf("FAIL %s: %v\n", f.Path, f.Err)
		}
		return fmt.Errorf("%d fixture(s) failed to load", len(summary.Failed))
	},
}

func init() {
	datasetsCmd.AddCommand(datasetsListCmd, datasetsValidateCmd)
	rootCmd.AddCommand(datasetsCmd)
}
