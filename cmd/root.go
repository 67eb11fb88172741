package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/expand-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "expand-cli",
	Short: "Automated event expansion pipeline",
	Long:  "Searches the web for pages about a target event, extracts structured readings via an LLM, accumulates backend-verified matches, and consolidates them into the event record.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
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
