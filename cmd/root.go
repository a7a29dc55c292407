package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/catchment-tools/schoolsearch-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "schoolsearch",
	Short: "Find and rank schools for a home location",
	Long:  "Searches a store of school records under distance, age, gender, rating, faith, and fee constraints, ranks the results with weighted criteria, and estimates admissions likelihood from historical cutoff distances.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Local .env is optional.
		_ = godotenv.Load()

		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

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
