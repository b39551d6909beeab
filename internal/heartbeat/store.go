package heartbeat

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store against the control-plane database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps a gorm handle holding the worker_status table.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates or updates the control-plane worker_status table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&WorkerStatus{})
}

// Upsert inserts or updates a worker's status row in one statement.
func (s *GormStore) Upsert(ctx context.Context, status WorkerStatus) error {
	if status.LastHeartbeat.IsZero() {
		status.LastHeartbeat = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "worker_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "job_id", "last_heartbeat"}),
	}).Create(&status).Error
}

// MarkOffline flips a worker's row to offline without removing it.
func (s *GormStore) MarkOffline(ctx context.Context, workerID string) error {
	return s.db.WithContext(ctx).Model(&WorkerStatus{}).
		Where("worker_id = ?", workerID).
		Update("status", StatusOffline).Error
}

// ListExpired returns every non-offline row whose heartbeat predates cutoff.
func (s *GormStore) ListExpired(ctx context.Context, cutoff time.Time) ([]WorkerStatus, error) {
	var rows []WorkerStatus
	err := s.db.WithContext(ctx).
		Where("status <> ? AND last_heartbeat < ?", StatusOffline, cutoff).
		Find(&rows).Error
	return rows, err
}

// Get returns one worker's status row.
func (s *GormStore) Get(ctx context.Context, workerID string) (*WorkerStatus, error) {
	var row WorkerStatus
	if err := s.db.WithContext(ctx).Where("worker_id = ?", workerID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

var _ Store = (*GormStore)(nil)

// MemStore is an in-memory Store used by publisher/reaper tests.
type MemStore struct {
	mu   sync.Mutex
	rows map[string]*WorkerStatus
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[string]*WorkerStatus)}
}

func (s *MemStore) Upsert(_ context.Context, status WorkerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status.LastHeartbeat.IsZero() {
		status.LastHeartbeat = time.Now().UTC()
	}
	existing, ok := s.rows[status.WorkerID]
	if !ok {
		status.CreatedAt = status.LastHeartbeat
	} else {
		status.CreatedAt = existing.CreatedAt
	}
	cp := status
	s.rows[status.WorkerID] = &cp
	return nil
}

func (s *MemStore) MarkOffline(_ context.Context, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[workerID]
	if !ok {
		return ErrNotFound
	}
	row.Status = StatusOffline
	return nil
}

func (s *MemStore) ListExpired(_ context.Context, cutoff time.Time) ([]WorkerStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []WorkerStatus
	for _, row := range s.rows {
		if row.Status != StatusOffline && row.LastHeartbeat.Before(cutoff) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *MemStore) Get(_ context.Context, workerID string) (*WorkerStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[workerID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

var _ Store = (*MemStore)(nil)
