// Package ocrjob wires internal/ocrpool's worker pool to the job queue and
// OCR pipeline: claim a StatusExtractionComplete job (transitioning it to
// StatusOCRInProgress), fetch its artifact, run it through
// internal/ocrpipeline, persist the per-page results, and close the job out.
//
// Grounded on internal/worker.completeJob's claim-dispatch-persist shape,
// translated from site-automation outcomes to pipeline.Document results.
package ocrjob

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/registryctl/internal/environment"
	"github.com/jackzampolin/registryctl/internal/jobqueue"
	"github.com/jackzampolin/registryctl/internal/metrics"
	"github.com/jackzampolin/registryctl/internal/ocrpipeline"
	"github.com/jackzampolin/registryctl/internal/ocrpool"
	"github.com/jackzampolin/registryctl/internal/visionclient"
)

// EnvironmentBinding is the slice of an environment the OCR pool needs: its
// job store (for ClaimForOCR/CountReadyForOCR), its artifact bucket, and
// (optionally) its metrics recorder. Metrics is nil-safe: a nil recorder
// means vision calls made while processing this environment's jobs record
// nothing.
type EnvironmentBinding struct {
	Name    string
	Store   jobqueue.Store
	Storage environment.Storage
	Metrics *metrics.Recorder
}

// workerIdentity tags every OCR claim/completion so a pool worker's work is
// attributable in logs the same way extraction workers are.
const workerIdentity = "ocr-pool"

// NewQueueDepth returns a QueueDepthFunc summing CountReadyForOCR across
// every environment for the given sub-type, driving the pool's rebalancer.
func NewQueueDepth(environments []EnvironmentBinding, logger *slog.Logger) ocrpool.QueueDepthFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, subType ocrpool.SubType) (int, error) {
		total := 0
		for _, env := range environments {
			n, err := env.Store.CountReadyForOCR(ctx, string(subType))
			if err != nil {
				logger.Warn("ocrjob: queue depth lookup failed", "environment", env.Name, "sub_type", subType, "error", err)
				continue
			}
			total += n
		}
		return total, nil
	}
}

// NewProcessor returns an ocrpool.Processor that claims one
// StatusExtractionComplete job of subType from the first environment that
// has one, runs it through the pipeline, and persists the outcome.
func NewProcessor(environments []EnvironmentBinding, vc *visionclient.Client, cfg ocrpipeline.Config, logger *slog.Logger) ocrpool.Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, subType ocrpool.SubType) error {
		job, env, err := claimAny(ctx, environments, string(subType))
		if err != nil {
			return err
		}
		if job == nil {
			return ocrpool.ErrNoWork
		}

		runJob(ctx, env, job, vc, cfg, logger)
		return nil
	}
}

func claimAny(ctx context.Context, environments []EnvironmentBinding, registryType string) (*jobqueue.Job, EnvironmentBinding, error) {
	var lastErr error
	for _, env := range environments {
		job, err := env.Store.ClaimForOCR(ctx, workerIdentity, []string{registryType})
		if err == nil {
			return job, env, nil
		}
		if err != jobqueue.ErrNoJobAvailable {
			lastErr = err
		}
	}
	return nil, EnvironmentBinding{}, lastErr
}

func runJob(ctx context.Context, env EnvironmentBinding, job *jobqueue.Job, vc *visionclient.Client, cfg ocrpipeline.Config, logger *slog.Logger) {
	key, _ := job.Metadata["artifact_key"].(string)
	if key == "" {
		logger.Error("ocrjob: job ready for OCR has no artifact_key", "job_id", job.ID)
		fail(ctx, env.Store, job, jobqueue.CanonicalMessage(jobqueue.ErrKindBadInput, "missing artifact_key"), logger)
		return
	}

	pdfData, err := env.Storage.Download(ctx, key)
	if err != nil {
		logger.Error("ocrjob: artifact download failed", "job_id", job.ID, "key", key, "error", err)
		fail(ctx, env.Store, job, jobqueue.CanonicalMessage(jobqueue.ErrKindInfrastructure, "artifact download failed"), logger)
		return
	}

	recordCtx := metrics.WithRecorder(ctx, env.Metrics, metrics.RecordOpts{JobID: job.ID, DocumentID: job.DocumentRef})
	doc, err := ocrpipeline.Run(recordCtx, vc, cfg, pdfData)
	if err != nil {
		logger.Error("ocrjob: pipeline run failed", "job_id", job.ID, "error", err)
		fail(ctx, env.Store, job, jobqueue.CanonicalMessage(jobqueue.ErrKindInfrastructure, "pipeline run failed"), logger)
		return
	}

	if err := persistPages(ctx, env.Store, job.ID, doc); err != nil {
		logger.Error("ocrjob: persisting pages failed", "job_id", job.ID, "error", err)
		fail(ctx, env.Store, job, jobqueue.CanonicalMessage(jobqueue.ErrKindInfrastructure, "persisting pages failed"), logger)
		return
	}

	if !doc.Complete {
		if err := env.Store.Fail(ctx, job.ID, workerIdentity, jobqueue.CanonicalMessage(jobqueue.ErrKindModelOverextraction, "one or more pages failed OCR"), true); err != nil {
			logger.Error("ocrjob: failing incomplete document failed", "job_id", job.ID, "error", err)
		}
		return
	}

	if err := env.Store.Complete(ctx, job.ID, workerIdentity); err != nil {
		logger.Error("ocrjob: completing job failed", "job_id", job.ID, "error", err)
	}
}

// persistPages writes one jobqueue.Page row per pipeline page result,
// matching structured page content back to its page number.
func persistPages(ctx context.Context, store jobqueue.Store, jobID string, doc ocrpipeline.Document) error {
	structuredByPage := make(map[int]json.RawMessage, len(doc.Structured.Pages))
	for _, p := range doc.Structured.Pages {
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal structured page %d: %w", p.PageNumber, err)
		}
		structuredByPage[p.PageNumber] = raw
	}

	for _, result := range doc.Pages {
		page := &jobqueue.Page{
			JobID:     jobID,
			PageNum:   result.Number,
			LineCount: result.LineCount,
			RawText:   linesToText(result.Lines),
		}
		if result.Failed {
			page.Status = jobqueue.StatusError
			page.LastError = result.Error
		} else {
			page.Status = jobqueue.StatusOCRComplete
			if raw, ok := structuredByPage[result.Number]; ok {
				var m jobqueue.JSONMap
				if err := json.Unmarshal(raw, &m); err != nil {
					return fmt.Errorf("unmarshal structured page %d: %w", result.Number, err)
				}
				page.SanitizedJSON = m
			}
		}
		if err := store.CreatePage(ctx, page); err != nil {
			return fmt.Errorf("create page %d: %w", result.Number, err)
		}
	}
	return nil
}

func linesToText(lines []visionclient.ExtractedLine) string {
	var out string
	for _, l := range lines {
		out += l.RawText + "\n"
	}
	return out
}

func fail(ctx context.Context, store jobqueue.Store, job *jobqueue.Job, msg string, logger *slog.Logger) {
	if err := store.Fail(ctx, job.ID, workerIdentity, msg, false); err != nil {
		logger.Error("ocrjob: recording failure failed", "job_id", job.ID, "error", err)
	}
}
