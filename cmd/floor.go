package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/grookai/vault-engine/internal/model"
	"github.com/grookai/vault-engine/internal/pricing"
)

var floorCondition string

var floorCmd = &cobra.Command{
	Use:   "floor <card_id>",
	Short: "Compute retail and market floors for one card print",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("drain"); err != nil {
			return err
		}

		cond := model.Condition(floorCondition)
		if !cond.Valid() {
			return eris.Errorf("invalid condition %q", floorCondition)
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		print, err := env.store.GetCardPrintByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if print == nil {
			return eris.Errorf("card not found: %s", args[0])
		}

		res, err := env.engine.ComputeFloors(cmd.Context(), print.ID, print.Identity(), cond)
		if err != nil && !eris.Is(err, pricing.ErrNoSources) {
			return err
		}

		fmt.Printf("%s %s/%s (%s) condition=%s\n",
			print.Name, print.SetCode, print.Number, print.Lang, cond)
		fmt.Printf("  retail floor: %s (%d samples)\n", fmtFloor(res.RetailFloor, res.Currency), res.RetailSamples)
		fmt.Printf("  market floor: %s (%d samples)\n", fmtFloor(res.MarketFloor, res.Currency), res.MarketSamples)
		return nil
	},
}

func fmtFloor(v *float64, currency string) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f %s", *v, currency)
}

func init() {
	floorCmd.Flags().StringVar(&floorCondition, "condition", "NM", "condition bucket (NM, LP, MP, HP, GRD)")
	rootCmd.AddCommand(floorCmd)
}
