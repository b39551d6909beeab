package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/registryctl/internal/ocrjob"
	"github.com/jackzampolin/registryctl/internal/ocrpool"
)

var ocrWorkerCmd = &cobra.Command{
	Use:   "ocr-worker",
	Short: "Run the self-balancing OCR pool over extracted artifacts",
	Long: `Run the OCR worker pool: one worker per registry sub-type to start,
rebalanced every cycle against each sub-type's queue depth and bounded by a
CPU/RAM capacity guard.

Each claimed job is fetched from artifact storage, run through the
line-count/extraction/coherence/boost pipeline, and its per-page results
persisted before the job is completed or dead-lettered.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfgMgr, err := loadConfigManager(cfgFile, logger)
		if err != nil {
			return err
		}
		cfg := cfgMgr.Get()

		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}

		pipelineCfg, err := buildPipelineConfig(cfg.Pipeline)
		if err != nil {
			return err
		}

		guard := ocrpool.NewCapacityGuard(
			cfg.OCRPool.AvailableCPU,
			cfg.OCRPool.AvailableRAMBytes,
			cfg.OCRPool.PerWorkerCPU,
			cfg.OCRPool.PerWorkerRAMBytes,
			cfg.OCRPool.HeadroomFraction,
		)

		depth := ocrjob.NewQueueDepth(a.ocrBindings, logger)
		process := ocrjob.NewProcessor(a.ocrBindings, a.visionClient, pipelineCfg, logger)

		pool := ocrpool.NewPool(ocrSubTypes(), depth, process, guard, logger)
		if cfg.OCRPool.RebalanceInterval != 0 || cfg.OCRPool.PollInterval != 0 {
			rebalance := cfg.OCRPool.RebalanceInterval
			if rebalance == 0 {
				rebalance = ocrpool.DefaultRebalanceInterval
			}
			poll := cfg.OCRPool.PollInterval
			if poll == 0 {
				poll = ocrpool.DefaultPollInterval
			}
			pool.SetIntervals(rebalance, poll)
		}

		logger.Info("OCR pool starting", "sub_types", ocrSubTypes())
		return pool.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(ocrWorkerCmd)
}
