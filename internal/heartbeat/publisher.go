package heartbeat

import (
	"context"
)

// Publisher reports a worker's liveness to the control-plane Store. It
// satisfies worker.HeartbeatPublisher structurally, without internal/worker
// needing to import this package.
type Publisher struct {
	store Store
}

// NewPublisher wraps a Store for one worker process to publish through.
func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

// Publish records status and the job currently held (nil if idle) along
// with a fresh heartbeat timestamp.
func (p *Publisher) Publish(ctx context.Context, workerID, status string, jobID *string) error {
	return p.store.Upsert(ctx, WorkerStatus{
		WorkerID: workerID,
		Status:   Status(status),
		JobID:    jobID,
	})
}
