package ocrjob

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/registryctl/internal/jobqueue"
	"github.com/jackzampolin/registryctl/internal/ocrpipeline"
	"github.com/jackzampolin/registryctl/internal/visionclient"
)

// ProcessByID force-claims one specific StatusExtractionComplete job by ID
// in env and runs it through the same fetch/pipeline/persist path
// NewProcessor's pool workers use, for the process-queue CLI's on-demand
// single-job path (spec.md §6).
func ProcessByID(ctx context.Context, env EnvironmentBinding, jobID string, vc *visionclient.Client, cfg ocrpipeline.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	job, err := env.Store.ClaimForOCRByID(ctx, jobID, workerIdentity)
	if err != nil {
		return fmt.Errorf("claim OCR job %s: %w", jobID, err)
	}

	runJob(ctx, env, job, vc, cfg, logger)

	final, err := env.Store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("read back job %s after processing: %w", jobID, err)
	}

	switch final.Status {
	case jobqueue.StatusError, jobqueue.StatusPending:
		// StatusPending means a retriable failure requeued the job rather
		// than advancing it - the forced attempt still didn't succeed.
		return fmt.Errorf("job %s ended in status %s: %s", jobID, final.Status, final.LastError)
	default:
		return nil
	}
}
