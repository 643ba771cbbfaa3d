package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grookai/vault-engine/internal/model"
	"github.com/grookai/vault-engine/internal/pricing"
)

var pricesLimit int

var pricesCmd = &cobra.Command{
	Use:   "prices",
	Short: "Inspect and refresh fused prices",
}

var pricesRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Recompute fused prices for stale card prints",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("drain"); err != nil {
			return err
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		prints, err := env.store.ListPrintsNeedingRefresh(cmd.Context(), 7*24*time.Hour, pricesLimit)
		if err != nil {
			return err
		}

		var counts model.DrainCounts
		for _, print := range prints {
			counts.Processed++
			outcome, err := env.engine.RefreshPrice(cmd.Context(), print.ID, print.Identity(), model.ConditionNM)
			switch {
			case err != nil && eris.Is(err, pricing.ErrNoSources):
				counts.Succeeded++
				counts.PriceErrors++
			case err != nil:
				counts.Failed++
				zap.L().Warn("refresh failed",
					zap.String("card_id", print.ID),
					zap.Error(err))
			case outcome.Rejected:
				counts.Succeeded++
				counts.PriceErrors++
			default:
				counts.Succeeded++
			}
		}
		printCounts(counts)
		return nil
	},
}

var pricesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pricing coverage across the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		status, err := st.PriceStatus(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("prints=%d fresh=%d stale=%d unpriced=%d errors=%d\n",
			status.TotalPrints, status.PricedFresh, status.PricedStale,
			status.Unpriced, status.ErrorEntries)
		return nil
	},
}

func init() {
	pricesRefreshCmd.Flags().IntVar(&pricesLimit, "limit", 100, "max prints to refresh")
	pricesCmd.AddCommand(pricesRefreshCmd)
	pricesCmd.AddCommand(pricesStatusCmd)
	rootCmd.AddCommand(pricesCmd)
}
