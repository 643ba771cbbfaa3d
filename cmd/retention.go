package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Apply retention policy to stored price data",
}

var retentionPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete price observations older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		purged, err := st.PurgeObservations(cmd.Context(), cfg.Pricing.Retention)
		if err != nil {
			return err
		}
		zap.L().Info("purged observations",
			zap.Int("count", purged),
			zap.Duration("retention", cfg.Pricing.Retention))
		return nil
	},
}

func init() {
	retentionCmd.AddCommand(retentionPurgeCmd)
	rootCmd.AddCommand(retentionCmd)
}
