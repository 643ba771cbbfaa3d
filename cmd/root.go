package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grookai/vault-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "vault-engine",
	Short: "Card catalog import pipeline and price fusion engine",
	Long:  "Imports card catalog data through a durable work queue, fuses retail, marketplace, and historical prices into trustworthy low/mid/high records, and rejects anomalous updates.",
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
