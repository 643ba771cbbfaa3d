package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/grookai/vault-engine/internal/identity"
	"github.com/grookai/vault-engine/internal/model"
)

var (
	enqueueLang     string
	enqueuePayload  string
	enqueueDedupKey string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Add work to the durable queues",
}

var enqueueImportCmd = &cobra.Command{
	Use:   "import <set_code> <number>",
	Short: "Queue a catalog import for one card print",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		ident := identity.Normalize(args[0], args[1], enqueueLang)
		item, err := st.EnqueueImport(cmd.Context(), ident)
		if err != nil {
			return err
		}
		fmt.Printf("queued %s/%s (%s): id=%s status=%s retries=%d\n",
			item.SetCode, item.Number, item.Lang, item.ID, item.Status, item.Retries)
		return nil
	},
}

var enqueueJobCmd = &cobra.Command{
	Use:   "job <name>",
	Short: "Queue a generic named job",
	Long:  "Known jobs: import_set_cards, import_set_prices, hydrate_card, refresh_prices.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		name := model.JobName(args[0])
		payload := json.RawMessage(enqueuePayload)
		if _, err := model.ParseJobPayload(name, payload); err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		item, err := st.EnqueueJob(cmd.Context(), name, payload, enqueueDedupKey, time.Time{})
		if err != nil {
			return err
		}
		fmt.Printf("queued %s: id=%s status=%s\n", item.Name, item.ID, item.Status)
		return nil
	},
}

func init() {
	enqueueImportCmd.Flags().StringVar(&enqueueLang, "lang", "", "card language (default en)")
	enqueueJobCmd.Flags().StringVar(&enqueuePayload, "payload", "{}", "job payload JSON")
	enqueueJobCmd.Flags().StringVar(&enqueueDedupKey, "dedup-key", "", "skip insert when a live job carries the same key")
	enqueueCmd.AddCommand(enqueueImportCmd)
	enqueueCmd.AddCommand(enqueueJobCmd)
	rootCmd.AddCommand(enqueueCmd)
}
