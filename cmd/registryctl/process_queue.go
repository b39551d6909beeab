package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/registryctl/internal/jobqueue"
	"github.com/jackzampolin/registryctl/internal/ocrjob"
	"github.com/jackzampolin/registryctl/internal/worker"
)

var (
	processQueueID  string
	processQueueEnv string
)

var processQueueCmd = &cobra.Command{
	Use:   "process-queue",
	Short: "Force-process one job by ID on demand",
	Long: `Force-process one job by ID, advancing its state exactly as a
worker or the OCR pool would, then exit. A pending extraction job is
dispatched through the site driver; a job already ready for OCR is run
through the OCR pipeline instead. Exit 0 on success, non-zero with a
message on failure.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if processQueueID == "" {
			return fmt.Errorf("--queue-id is required")
		}

		cfgMgr, err := loadConfigManager(cfgFile, logger)
		if err != nil {
			return err
		}
		cfg := cfgMgr.Get()

		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}

		workerBinding, ocrBinding, job, err := findJob(ctx, a, processQueueEnv, processQueueID)
		if err != nil {
			return err
		}

		switch job.Status {
		case jobqueue.StatusPending:
			identity := worker.NewIdentity()
			w := worker.New(identity, []worker.EnvironmentBinding{workerBinding}, a.driver, a.sessions, heartbeatPublisher(a), logger, worker.Config{})
			return w.ProcessByID(ctx, workerBinding, processQueueID)

		case jobqueue.StatusExtractionComplete:
			pipelineCfg, err := buildPipelineConfig(cfg.Pipeline)
			if err != nil {
				return err
			}
			return ocrjob.ProcessByID(ctx, ocrBinding, processQueueID, a.visionClient, pipelineCfg, logger)

		default:
			return fmt.Errorf("job %s is in status %s, not pending or ready for OCR", processQueueID, job.Status)
		}
	},
}

// findJob locates jobID's worker/OCR bindings and current row. If envName is
// empty every configured environment is searched, since job IDs are unique
// UUIDs independent of environment.
func findJob(ctx context.Context, a *app, envName, jobID string) (worker.EnvironmentBinding, ocrjob.EnvironmentBinding, *jobqueue.Job, error) {
	for i, wb := range a.workerBindings {
		if envName != "" && wb.Name != envName {
			continue
		}
		job, err := wb.Store.Get(ctx, jobID)
		if err != nil {
			continue
		}
		return wb, a.ocrBindings[i], job, nil
	}
	return worker.EnvironmentBinding{}, ocrjob.EnvironmentBinding{}, nil, fmt.Errorf("job %s not found in any configured environment", jobID)
}

func init() {
	processQueueCmd.Flags().StringVar(&processQueueID, "queue-id", "", "job ID to force-process")
	processQueueCmd.Flags().StringVar(&processQueueEnv, "env", "", "restrict the search to this environment (default: search all)")
	rootCmd.AddCommand(processQueueCmd)
}
