// parisbudget serves and maintains the Paris budget explorer's datasets:
// an HTTP API over the exported JSON fixtures, plus the geocoding jobs
// that enrich the map layers.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/civsource/parisbudget/internal/config"
)

var (
	// Global flags
	verbose     bool
	settingsDir string
	dataDirFlag string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "parisbudget",
	Short: "Paris budget explorer backend",
	Long: `parisbudget serves the budget explorer's datasets over HTTP and runs
the geocoding jobs that enrich the subsidy and investment map layers.

Datasets are the JSON fixtures exported by the data pipeline; point
--data-dir (or the settings file) at the directory holding them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env first, so PARISBUDGET_DIR can come from it
		_ = godotenv.Load()
		if settingsDir != "" {
			os.Setenv("PARISBUDGET_DIR", settingsDir)
		}

		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// loadSettings resolves the effective settings, applying the --data-dir
// override.
func loadSettings() (*config.Settings, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}
	if dataDirFlag != "" {
		settings.DataDir = dataDirFlag
	}
	return settings, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&settingsDir, "settings-dir", "", "settings directory (overrides PARISBUDGET_DIR)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "data directory (overrides settings)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
