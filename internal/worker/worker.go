// Package worker implements the unified worker loop: claim a job from one of
// several environments, dispatch it to a site driver over a lazily-acquired
// browser session, persist the classified outcome, and keep a liveness
// heartbeat going throughout.
//
// Grounded on the teacher's dropped internal/jobs/worker.go
// (ProviderWorker.Process's claim/dispatch/persist-outcome/retry loop) and
// scheduler_workers.go's per-worker goroutine shape, translated from
// DefraDB-backed book jobs to the jobqueue/accountpool/sitedriver contracts.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/registryctl/internal/accountpool"
	"github.com/jackzampolin/registryctl/internal/browsersession"
	"github.com/jackzampolin/registryctl/internal/environment"
	"github.com/jackzampolin/registryctl/internal/jobqueue"
	"github.com/jackzampolin/registryctl/internal/sitedriver"
)

// artifactUploadAttempts bounds the retry on a transient storage-upload
// failure, same shape as the teacher's DefraDB readiness poll.
const artifactUploadAttempts = 3

// DefaultPollInterval is how long the loop sleeps after an empty claim
// sweep across every environment.
const DefaultPollInterval = 10 * time.Second

// DefaultShutdownGrace is how long an in-flight job is given to finish after
// the loop's context is canceled before it is abandoned.
const DefaultShutdownGrace = 30 * time.Second

// OCREligibleRegistryTypes are the document kinds whose extraction hands off
// to the OCR pool instead of completing outright (§4.4 step 6, §4.8).
// Cadastral plans are images, not text to extract, so they are excluded.
// Exported so cmd/registryctl can derive the OCR pool's sub-types from the
// same source instead of keeping a second list in sync.
var OCREligibleRegistryTypes = map[string]bool{
	"index": true,
	"deed":  true,
}

// HeartbeatPublisher is the liveness-reporting dependency the worker needs;
// satisfied structurally by *heartbeat.Publisher.
type HeartbeatPublisher interface {
	Publish(ctx context.Context, workerID, status string, jobID *string) error
}

// EnvironmentBinding is everything the worker needs to claim from and
// persist to one environment, checked in priority order on every tick.
type EnvironmentBinding struct {
	Name        string
	Store       jobqueue.Store
	Credentials *accountpool.Pool
	Storage     environment.Storage
}

// Config tunes the worker loop.
type Config struct {
	PollInterval  time.Duration
	ShutdownGrace time.Duration
	RegistryTypes []string
}

// WithDefaults fills zero-valued tunables with their documented defaults.
func (c Config) WithDefaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	return c
}

// Worker is one long-running claim/dispatch/persist loop. It is
// single-threaded with respect to its browser session: Run must not be
// called concurrently from more than one goroutine for the same Worker.
type Worker struct {
	identity     Identity
	environments []EnvironmentBinding
	driver       sitedriver.Driver
	sessions     *browsersession.Manager
	heartbeat    HeartbeatPublisher
	logger       *slog.Logger
	cfg          Config
}

// New builds a Worker over the given environments (checked in the order
// given on every tick), dispatching claimed jobs to driver.
func New(identity Identity, environments []EnvironmentBinding, driver sitedriver.Driver, sessions *browsersession.Manager, heartbeat HeartbeatPublisher, logger *slog.Logger, cfg Config) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		identity:     identity,
		environments: environments,
		driver:       driver,
		sessions:     sessions,
		heartbeat:    heartbeat,
		logger:       logger.With("worker_id", identity.WorkerID),
		cfg:          cfg.WithDefaults(),
	}
}

// Run executes the loop until ctx is canceled. An in-flight job is allowed
// up to cfg.ShutdownGrace beyond cancellation to finish before it is marked
// abandoned.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		w.publish(ctx, "idle", nil)

		job, env, err := w.claimAny(ctx)
		if err != nil {
			w.logger.Error("claim sweep failed", "error", err)
		}

		if job == nil {
			w.sessions.Touch()
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}

		w.runJob(ctx, env, job)
	}
}

func (w *Worker) publish(ctx context.Context, status string, jobID *string) {
	if w.heartbeat == nil {
		return
	}
	if err := w.heartbeat.Publish(ctx, w.identity.WorkerID, status, jobID); err != nil {
		w.logger.Error("heartbeat publish failed", "error", err)
	}
}

// claimAny tries every environment in priority order and returns the first
// successful claim.
func (w *Worker) claimAny(ctx context.Context) (*jobqueue.Job, EnvironmentBinding, error) {
	var lastErr error
	for _, env := range w.environments {
		job, err := env.Store.Claim(ctx, w.identity.WorkerID, w.cfg.RegistryTypes)
		if err == nil {
			return job, env, nil
		}
		if err != jobqueue.ErrNoJobAvailable {
			lastErr = err
		}
	}
	return nil, EnvironmentBinding{}, lastErr
}

// runJob dispatches job to its environment's driver and persists the
// outcome. The job's own context survives the loop's cancellation for up to
// ShutdownGrace so an in-flight job finishes rather than aborting mid-write.
func (w *Worker) runJob(parent context.Context, env EnvironmentBinding, job *jobqueue.Job) {
	jobCtx, cancel := withShutdownGrace(parent, w.cfg.ShutdownGrace)
	defer cancel()

	w.publish(jobCtx, "busy", &job.ID)
	w.processJob(jobCtx, parent, env, job)
}

func (w *Worker) processJob(jobCtx, parent context.Context, env EnvironmentBinding, job *jobqueue.Job) {
	cred, err := env.Credentials.Select(jobCtx, w.identity.WorkerID)
	if err != nil {
		w.logger.Error("select credential failed", "job_id", job.ID, "error", err)
		w.failJob(env, job, jobqueue.CanonicalMessage(jobqueue.ErrKindInfrastructure, "no eligible credential"), true)
		return
	}

	session, err := w.sessions.Acquire(jobCtx, cred.ID)
	if err != nil {
		w.logger.Error("acquire browser session failed", "job_id", job.ID, "credential_id", cred.ID, "error", err)
		_ = env.Credentials.Release(cred.ID, w.identity.WorkerID)
		w.failJob(env, job, jobqueue.CanonicalMessage(jobqueue.ErrKindInfrastructure, "browser session unavailable"), false)
		return
	}

	loginResult, err := w.driver.Login(jobCtx, session.Handle, sitedriver.LoginCredential{Username: cred.Username, Secret: cred.Secret, SecurityAnswer: cred.SecurityAnswer})
	if w.abandonedOnShutdown(parent, jobCtx, err) {
		w.abandon(env, job, cred)
		return
	}
	if err != nil {
		w.logger.Error("login call failed", "job_id", job.ID, "credential_id", cred.ID, "error", err)
		w.handleDriverFailure(env, job, cred, sitedriver.FailureInfrastructure, jobqueue.CanonicalMessage(jobqueue.ErrKindInfrastructure, "login call failed"))
		return
	}
	if loginResult.Kind != sitedriver.FailureNone {
		w.handleDriverFailure(env, job, cred, loginResult.Kind, jobqueue.CanonicalMessage(jobqueue.ErrKindLoginFailed, ""))
		return
	}
	if err := env.Credentials.MarkSuccess(cred.ID, w.identity.WorkerID); err != nil {
		w.logger.Warn("mark credential success failed", "credential_id", cred.ID, "error", err)
	}

	result, err := w.driver.Execute(jobCtx, session.Handle, sitedriver.JobRequest{Kind: job.RegistryType, Params: paramsFromMetadata(job.Metadata)})
	if w.abandonedOnShutdown(parent, jobCtx, err) {
		w.abandon(env, job, cred)
		return
	}
	if err != nil {
		w.logger.Error("execute call failed", "job_id", job.ID, "credential_id", cred.ID, "error", err)
		w.handleDriverFailure(env, job, cred, sitedriver.FailureInfrastructure, jobqueue.CanonicalMessage(jobqueue.ErrKindInfrastructure, "execute call failed"))
		return
	}
	if result.Kind != sitedriver.FailureNone {
		w.handleDriverFailure(env, job, cred, result.Kind, result.Message)
		return
	}

	w.completeJob(env, job, cred, result.Artifact)
}

// abandonedOnShutdown reports whether err represents jobCtx's shutdown-grace
// deadline firing, as opposed to an ordinary driver error.
func (w *Worker) abandonedOnShutdown(parent, jobCtx context.Context, err error) bool {
	return err != nil && parent.Err() != nil && jobCtx.Err() != nil
}

func (w *Worker) abandon(env EnvironmentBinding, job *jobqueue.Job, cred *accountpool.Credential) {
	_ = env.Credentials.Release(cred.ID, w.identity.WorkerID)
	_ = w.sessions.Close(context.Background())
	bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.Store.Fail(bg, job.ID, w.identity.WorkerID, jobqueue.CanonicalMessage(jobqueue.ErrKindAbandonedOnShutdown, ""), true); err != nil {
		w.logger.Error("failed to record abandoned job", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) handleDriverFailure(env EnvironmentBinding, job *jobqueue.Job, cred *accountpool.Credential, kind sitedriver.FailureKind, message string) {
	if kind == sitedriver.FailureAccountLocked {
		becameIneligible, err := env.Credentials.MarkFailure(cred.ID, w.identity.WorkerID)
		if err != nil {
			w.logger.Warn("mark credential failure failed", "credential_id", cred.ID, "error", err)
		}
		if becameIneligible {
			w.logger.Error("credential became ineligible mid-run, reporting worker error", "credential_id", cred.ID)
		}
	}

	ctx, cancel := persistContext()
	defer cancel()
	screenshot := w.sessions.CloseOnFailure(ctx)
	_ = screenshot // TODO: upload to env.Storage as a failed-job attachment once the attachment key convention lands.

	_ = env.Credentials.Release(cred.ID, w.identity.WorkerID)

	w.failJob(env, job, message, !kind.Retriable())
}

// persistContext returns a short-lived background context for store writes,
// independent of the caller's own context so a job's outcome still gets
// recorded even after the worker loop's context has been canceled.
func persistContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func (w *Worker) failJob(env EnvironmentBinding, job *jobqueue.Job, message string, deadLetter bool) {
	ctx, cancel := persistContext()
	defer cancel()
	if err := env.Store.Fail(ctx, job.ID, w.identity.WorkerID, message, deadLetter); err != nil {
		w.logger.Error("failed to record job failure", "job_id", job.ID, "error", err)
	}
	w.cascadeSession(ctx, env, job)
}

// cascadeSession checks job's parent business-registry session, if any, for
// completion once job itself has reached a terminal or non-terminal status
// (spec.md §3: a session completes only once every PersonalRightsSearch
// child is terminal). Calling it on a job that just requeued to pending is
// harmless - CascadeSessionCompletion simply finds that sibling
// non-terminal and no-ops.
func (w *Worker) cascadeSession(ctx context.Context, env EnvironmentBinding, job *jobqueue.Job) {
	if job.ParentSessionID == nil {
		return
	}
	if err := env.Store.CascadeSessionCompletion(ctx, *job.ParentSessionID); err != nil {
		w.logger.Error("session completion cascade failed", "job_id", job.ID, "session_id", *job.ParentSessionID, "error", err)
	}
}

func (w *Worker) completeJob(env EnvironmentBinding, job *jobqueue.Job, cred *accountpool.Credential, artifact *sitedriver.Artifact) {
	defer func() { _ = env.Credentials.Release(cred.ID, w.identity.WorkerID) }()

	ctx, cancel := persistContext()
	defer cancel()

	metadata := jobqueue.JSONMap{}
	if artifact != nil && env.Storage != nil {
		key := fmt.Sprintf("%s/%s/%s", env.Name, job.ID, artifact.Filename)
		var ref string
		err := retry.Do(
			func() error {
				uploaded, uploadErr := env.Storage.Upload(ctx, key, artifact.Bytes, artifact.MimeType)
				if uploadErr != nil {
					return uploadErr
				}
				ref = uploaded
				return nil
			},
			retry.Context(ctx),
			retry.Attempts(artifactUploadAttempts),
			retry.Delay(500*time.Millisecond),
		)
		if err != nil {
			w.logger.Error("artifact upload failed", "job_id", job.ID, "error", err)
			w.failJob(env, job, jobqueue.CanonicalMessage(jobqueue.ErrKindInfrastructure, "artifact upload failed"), false)
			return
		}
		metadata["artifact_path"] = ref
		metadata["artifact_key"] = key
	}

	// An extraction whose document kind requires downstream OCR is handed
	// to the OCR pool rather than closed out here (§4.4 step 6): no direct
	// worker-to-worker handoff, just a state change the pool's own claim
	// query picks up.
	if OCREligibleRegistryTypes[job.RegistryType] {
		if err := env.Store.MarkReadyForOCR(ctx, job.ID, w.identity.WorkerID, metadata); err != nil {
			w.logger.Error("failed to mark job ready for OCR", "job_id", job.ID, "error", err)
		}
		return
	}

	if err := env.Store.CompleteWithMetadata(ctx, job.ID, w.identity.WorkerID, metadata); err != nil {
		w.logger.Error("failed to record job completion", "job_id", job.ID, "error", err)
	}
	w.cascadeSession(ctx, env, job)
}

func paramsFromMetadata(metadata jobqueue.JSONMap) map[string]string {
	params := make(map[string]string, len(metadata))
	for k, v := range metadata {
		params[k] = fmt.Sprintf("%v", v)
	}
	return params
}

// withShutdownGrace returns a context that is independent of parent's
// cancellation until it fires, at which point the returned context has
// grace left before it, too, is canceled. This lets an in-flight job finish
// its current driver call instead of aborting the instant the loop's
// context is canceled.
func withShutdownGrace(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(parent, func() {
		time.AfterFunc(grace, cancel)
	})
	return ctx, func() { stop(); cancel() }
}
