package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/registryctl/internal/metrics"
	"github.com/jackzampolin/registryctl/internal/worker"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print per-environment queue depth and cost summaries",
	Long: `Print, for every configured environment, how many jobs are waiting
for OCR by registry sub-type and a cost/latency summary drawn from its
recorded vision-model metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfgMgr, err := loadConfigManager(cfgFile, logger)
		if err != nil {
			return err
		}

		a, err := buildApp(ctx, cfgMgr.Get(), logger)
		if err != nil {
			return err
		}

		for _, b := range a.ocrBindings {
			fmt.Printf("environment %s\n", b.Name)

			for registryType := range worker.OCREligibleRegistryTypes {
				count, err := b.Store.CountReadyForOCR(ctx, registryType)
				if err != nil {
					return fmt.Errorf("environment %s: count ready for OCR (%s): %w", b.Name, registryType, err)
				}
				fmt.Printf("  %-20s %d ready for OCR\n", registryType, count)
			}

			query := a.metricsQueries[b.Name]
			summary, err := query.GetSummary(ctx, metrics.Filter{})
			if err != nil {
				return fmt.Errorf("environment %s: metrics summary: %w", b.Name, err)
			}
			fmt.Printf("  metrics: %d calls, $%.4f total, %d tokens, %d errors\n",
				summary.Count, summary.TotalCostUSD, summary.TotalTokens, summary.ErrorCount)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
