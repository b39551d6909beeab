package worker

import (
	"context"
	"fmt"

	"github.com/jackzampolin/registryctl/internal/jobqueue"
)

// ProcessByID force-claims one specific pending job by ID in env and runs it
// through the same dispatch/persist path Run's own claim loop uses, for the
// process-queue CLI's on-demand single-job path (spec.md §6). Unlike Run, it
// does not loop or poll: it claims exactly jobID, processes it once, and
// reports the outcome by re-reading the job's final status.
func (w *Worker) ProcessByID(ctx context.Context, env EnvironmentBinding, jobID string) error {
	job, err := env.Store.ClaimByID(ctx, jobID, w.identity.WorkerID)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}

	w.publish(ctx, "busy", &job.ID)
	w.processJob(ctx, ctx, env, job)
	w.publish(ctx, "idle", nil)

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
