package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grookai/vault-engine/internal/model"
)

var drainLimit int

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Claim and execute one bounded batch of queued work",
}

var drainImportsCmd = &cobra.Command{
	Use:   "imports",
	Short: "Drain the catalog import queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("drain"); err != nil {
			return err
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		counts, err := env.drainer.DrainImports(cmd.Context(), batchLimitFlag())
		if err != nil {
			return err
		}
		printCounts(counts)
		return nil
	},
}

var drainJobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Drain the generic job queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("drain"); err != nil {
			return err
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		counts, err := env.drainer.DrainJobs(cmd.Context(), batchLimitFlag())
		if err != nil {
			return err
		}
		printCounts(counts)
		return nil
	},
}

func batchLimitFlag() int {
	if drainLimit > 0 {
		return drainLimit
	}
	return cfg.Queue.DrainLimit
}

func printCounts(c model.DrainCounts) {
	fmt.Printf("processed=%d succeeded=%d failed=%d price_errors=%d\n",
		c.Processed, c.Succeeded, c.Failed, c.PriceErrors)
}

func init() {
	drainCmd.PersistentFlags().IntVar(&drainLimit, "limit", 0, "batch size (default from config)")
	drainCmd.AddCommand(drainImportsCmd)
	drainCmd.AddCommand(drainJobsCmd)
	rootCmd.AddCommand(drainCmd)
}
