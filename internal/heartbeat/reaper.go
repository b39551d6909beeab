package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/registryctl/internal/jobqueue"
)

// DefaultHeartbeatInterval is how often a worker publishes liveness.
const DefaultHeartbeatInterval = 30 * time.Second

// DefaultDeadThreshold is how stale a heartbeat must be before its worker is
// considered dead.
const DefaultDeadThreshold = 3 * time.Minute

// DefaultReapInterval is how often the reaper sweeps for dead workers.
const DefaultReapInterval = 30 * time.Second

// EnvironmentJobs is one environment's job store, searched by the reaper
// when reclaiming a dead worker's held job.
type EnvironmentJobs struct {
	Name string
	Jobs jobqueue.Store
}

// Reaper periodically scans the control-plane status store for workers that
// have stopped heartbeating and reclaims any job they were holding.
type Reaper struct {
	status        Store
	environments  []EnvironmentJobs
	deadThreshold time.Duration
	interval      time.Duration
	logger        *slog.Logger
}

// NewReaper builds a Reaper over the given environments' job stores.
// deadThreshold and interval fall back to DefaultDeadThreshold and
// DefaultReapInterval when zero.
func NewReaper(status Store, environments []EnvironmentJobs, deadThreshold, interval time.Duration, logger *slog.Logger) *Reaper {
	if deadThreshold == 0 {
		deadThreshold = DefaultDeadThreshold
	}
	if interval == 0 {
		interval = DefaultReapInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		status:        status,
		environments:  environments,
		deadThreshold: deadThreshold,
		interval:      interval,
		logger:        logger,
	}
}

// Run sweeps for dead workers every interval until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.ReapOnce(ctx); err != nil {
			r.logger.Error("reap sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ReapOnce runs a single sweep in two passes: first, every worker whose
// control-plane heartbeat is older than deadThreshold has its held job (if
// any) conditionally released and its status row marked offline. Second,
// every environment's own job leases are checked directly via
// jobqueue.Store.ListExpired — this catches a claimed job whose worker
// crashed before ever publishing a heartbeat row, which the first pass
// cannot see. Rows are never deleted.
func (r *Reaper) ReapOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.deadThreshold)

	dead, err := r.status.ListExpired(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("heartbeat: list expired workers: %w", err)
	}

	for _, row := range dead {
		if row.JobID != nil {
			if err := r.releaseHeldJob(ctx, row); err != nil {
				r.logger.Error("failed to release dead worker's job", "worker_id", row.WorkerID, "job_id", *row.JobID, "error", err)
			}
		}
		if err := r.status.MarkOffline(ctx, row.WorkerID); err != nil {
			r.logger.Error("failed to mark worker offline", "worker_id", row.WorkerID, "error", err)
		}
	}

	r.reclaimStaleLeases(ctx, cutoff)
	return nil
}

// reclaimStaleLeases releases any claimed/processing job whose own
// heartbeat_at predates cutoff, regardless of whether its worker ever
// registered in the control-plane store.
func (r *Reaper) reclaimStaleLeases(ctx context.Context, cutoff time.Time) {
	for _, env := range r.environments {
		expired, err := env.Jobs.ListExpired(ctx, cutoff)
		if err != nil {
			r.logger.Error("failed to list expired leases", "environment", env.Name, "error", err)
			continue
		}
		for _, job := range expired {
			if job.WorkerID == nil {
				continue
			}
			marker := fmt.Sprintf("released by reaper: stale lease held by %s", *job.WorkerID)
			if _, err := env.Jobs.ReleaseIfOwnedBy(ctx, job.ID, *job.WorkerID, marker); err != nil {
				r.logger.Error("failed to release stale lease", "environment", env.Name, "job_id", job.ID, "error", err)
			}
		}
	}
}

// releaseHeldJob searches every environment for the dead worker's job,
// stopping at the first environment whose conditional release succeeds. A
// job belongs to exactly one environment, so at most one release fires.
func (r *Reaper) releaseHeldJob(ctx context.Context, row WorkerStatus) error {
	marker := fmt.Sprintf("released by reaper: dead worker %s", row.WorkerID)

	for _, env := range r.environments {
		released, err := env.Jobs.ReleaseIfOwnedBy(ctx, *row.JobID, row.WorkerID, marker)
		if err != nil {
			return fmt.Errorf("environment %s: %w", env.Name, err)
		}
		if released {
			return nil
		}
	}
	return nil
}
