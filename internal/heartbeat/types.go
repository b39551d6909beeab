// Package heartbeat implements worker liveness publishing and the reaper
// that reclaims jobs held by workers that stopped heartbeating.
//
// WorkerStatus rows live in one control-plane store shared by every worker
// process, separate from the per-environment job tables in internal/jobqueue
// (spec §4.5: a dead worker's held job may live in any environment, so the
// reaper must search all of them once it finds a stale status row).
// Grounded on the teacher's dropped internal/jobs/scheduler_workers.go
// per-worker lifecycle bookkeeping, persisted the way internal/environment
// persists job rows (gorm, one struct per table).
package heartbeat

import (
	"context"
	"errors"
	"time"
)

// Status is a worker's last-reported activity state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusBusy    Status = "busy"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// ErrNotFound is returned when a worker status row doesn't exist.
var ErrNotFound = errors.New("heartbeat: worker status not found")

// WorkerStatus is the liveness row for one worker process.
type WorkerStatus struct {
	WorkerID      string    `gorm:"primaryKey" json:"worker_id"`
	Status        Status    `json:"status"`
	JobID         *string   `json:"job_id,omitempty"`
	LastHeartbeat time.Time `gorm:"index" json:"last_heartbeat"`
	CreatedAt     time.Time `json:"created_at"`
}

func (WorkerStatus) TableName() string { return "worker_status" }

// Store persists WorkerStatus rows. Implemented by *GormStore (production)
// and *MemStore (tests).
type Store interface {
	// Upsert records the worker's current status and heartbeat timestamp,
	// creating the row on first publish.
	Upsert(ctx context.Context, status WorkerStatus) error
	// MarkOffline sets a worker's row to StatusOffline without deleting it,
	// preserving history per spec §4.5.
	MarkOffline(ctx context.Context, workerID string) error
	// ListExpired returns non-offline rows whose last heartbeat is older
	// than cutoff.
	ListExpired(ctx context.Context, cutoff time.Time) ([]WorkerStatus, error)
	// Get returns one worker's status row.
	Get(ctx context.Context, workerID string) (*WorkerStatus, error)
}
