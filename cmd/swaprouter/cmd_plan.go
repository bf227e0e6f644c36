package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/swaprouter/internal/app"
	"github.com/alanyoungcy/swaprouter/internal/domain"
)

func newPlanCmd(opts *rootOptions) *cobra.Command {
	var req domain.PlanRequest
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Build an atomic swap plan and print it as JSON without executing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := opts.loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			application := app.New(cfg, logger)
			defer application.Close()

			plan, err := application.Plan(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("build plan: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		},
	}
	cmd.Flags().StringVar(&req.InputAsset, "in", "", "input asset (required)")
	cmd.Flags().StringVar(&req.OutputAsset, "out", "", "output asset (required)")
	cmd.Flags().Float64Var(&req.Amount, "amount", 0, "input amount (required)")
	cmd.Flags().Float64Var(&req.SlippageBps, "slippage-bps", 0, "slippage tolerance; 0 uses plan.default_slippage_bps")
	cmd.Flags().StringSliceVar(&req.AllowedVenues, "venues", nil, "restrict routing to these venues")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
