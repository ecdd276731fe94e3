package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pharmacy-intel/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "pharmacy-intel",
	Short: "Independent pharmacy acquisition intelligence pipeline",
	Long:  "Ingests the NPPES registry, classifies chain vs independent pharmacies, enriches with Medicare claims and ZIP demographics, scores acquisition targets, and tracks changes across runs.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := config.InitLogger(loaded.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		cfg = loaded
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
