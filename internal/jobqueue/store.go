package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the persistence interface the worker loop and reaper use. It is
// implemented by *GormStore (production, one instance per environment) and
// by *MemStore (tests).
type Store interface {
	Enqueue(ctx context.Context, job *Job) error
	Claim(ctx context.Context, workerID string, registryTypes []string) (*Job, error)
	// ClaimForOCR claims a job already StatusExtractionComplete, transitioning
	// it to StatusOCRInProgress - the OCR pool's counterpart to Claim.
	ClaimForOCR(ctx context.Context, workerID string, registryTypes []string) (*Job, error)
	// ClaimByID and ClaimForOCRByID claim one specific job by ID rather than
	// the next one off the queue, for the process-queue CLI's
	// force-process-one-job path (spec.md §6).
	ClaimByID(ctx context.Context, jobID, workerID string) (*Job, error)
	ClaimForOCRByID(ctx context.Context, jobID, workerID string) (*Job, error)
	Heartbeat(ctx context.Context, jobID, workerID string) error
	// Complete marks a job StatusOCRComplete - the OCR pool's terminal
	// success transition, the counterpart to ClaimForOCR.
	Complete(ctx context.Context, jobID, workerID string) error
	// CompleteWithMetadata moves an extraction job to StatusExtractionComplete,
	// merging metadata (e.g. artifact_path) in the same update - used by the
	// extraction worker when the job's document kind needs no further OCR.
	CompleteWithMetadata(ctx context.Context, jobID, workerID string, metadata JSONMap) error
	// MarkReadyForOCR moves a claimed extraction job to
	// StatusExtractionComplete too, merging metadata in the same update and
	// clearing worker_id like CompleteWithMetadata, but it also clears the
	// claim/heartbeat timestamps and leaves completed_at unset so the OCR
	// pool's ClaimForOCR can pick it up - used when the job's document kind
	// requires downstream OCR.
	MarkReadyForOCR(ctx context.Context, jobID, workerID string, metadata JSONMap) error
	Fail(ctx context.Context, jobID, workerID, errMsg string, deadLetter bool) error
	Release(ctx context.Context, jobID string) error
	ReleaseIfOwnedBy(ctx context.Context, jobID, workerID, marker string) (released bool, err error)
	Get(ctx context.Context, jobID string) (*Job, error)
	ListExpired(ctx context.Context, heartbeatOlderThan time.Time) ([]*Job, error)
	// CountReadyForOCR reports how many jobs of registryType are currently
	// StatusExtractionComplete, feeding the OCR pool's rebalancing decision.
	CountReadyForOCR(ctx context.Context, registryType string) (int, error)

	CreatePage(ctx context.Context, page *Page) error
	UpdatePage(ctx context.Context, page *Page) error
	PagesForJob(ctx context.Context, jobID string) ([]*Page, error)

	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	// CascadeSessionCompletion marks sessionID completed once every
	// PersonalRightsSearch child job pointing at it has reached a terminal
	// status, and is a no-op otherwise. The worker calls this after
	// finishing any job that carries a ParentSessionID (spec.md §3, S6).
	CascadeSessionCompletion(ctx context.Context, sessionID string) error
}

// GormStore implements Store against one environment's Postgres database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps a gorm handle for one environment.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Enqueue inserts a new pending job.
func (s *GormStore) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == 0 {
		job.Status = StatusPending
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 5
	}
	return s.db.WithContext(ctx).Create(job).Error
}

// Claim atomically hands one pending job (optionally restricted to
// registryTypes) to workerID, or returns ErrNoJobAvailable.
//
// Uses SELECT ... FOR UPDATE SKIP LOCKED to pick a candidate without
// blocking on rows other workers are already inspecting, then the
// conditional UPDATE ... WHERE status = pending AND worker_id IS NULL
// guarantees at most one worker wins the row even under a race between
// the select and the update.
func (s *GormStore) Claim(ctx context.Context, workerID string, registryTypes []string) (*Job, error) {
	var job Job

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", StatusPending)
		if len(registryTypes) > 0 {
			q = q.Where("registry_type IN ?", registryTypes)
		}
		if err := q.Order("created_at asc").Limit(1).Take(&job).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		res := tx.Model(&Job{}).
			Where("id = ? AND status = ? AND worker_id IS NULL", job.ID, StatusPending).
			Updates(map[string]any{
				"status":       StatusProcessing,
				"worker_id":    workerID,
				"claimed_at":   now,
				"heartbeat_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoJobAvailable
		}

		job.Status = StatusProcessing
		job.WorkerID = &workerID
		job.ClaimedAt = &now
		job.HeartbeatAt = &now
		return nil
	})

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoJobAvailable
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimForOCR atomically hands one StatusExtractionComplete job to workerID,
// transitioning it to StatusOCRInProgress - the same locking shape as Claim
// but drawing from the OCR-eligible pool instead of the pending-extraction
// pool.
func (s *GormStore) ClaimForOCR(ctx context.Context, workerID string, registryTypes []string) (*Job, error) {
	var job Job

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", StatusExtractionComplete)
		if len(registryTypes) > 0 {
			q = q.Where("registry_type IN ?", registryTypes)
		}
		if err := q.Order("created_at asc").Limit(1).Take(&job).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		res := tx.Model(&Job{}).
			Where("id = ? AND status = ? AND worker_id IS NULL", job.ID, StatusExtractionComplete).
			Updates(map[string]any{
				"status":       StatusOCRInProgress,
				"worker_id":    workerID,
				"claimed_at":   now,
				"heartbeat_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoJobAvailable
		}

		job.Status = StatusOCRInProgress
		job.WorkerID = &workerID
		job.ClaimedAt = &now
		job.HeartbeatAt = &now
		return nil
	})

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoJobAvailable
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimByID claims one specific pending job by ID instead of the next one
// off the queue, for the process-queue CLI's force-process-one-job path.
// Same conditional-update shape as Claim, scoped to a single row.
func (s *GormStore) ClaimByID(ctx context.Context, jobID, workerID string) (*Job, error) {
	return s.claimSpecific(ctx, jobID, workerID, StatusPending, StatusProcessing)
}

// ClaimForOCRByID is ClaimByID's StatusExtractionComplete counterpart.
func (s *GormStore) ClaimForOCRByID(ctx context.Context, jobID, workerID string) (*Job, error) {
	return s.claimSpecific(ctx, jobID, workerID, StatusExtractionComplete, StatusOCRInProgress)
}

func (s *GormStore) claimSpecific(ctx context.Context, jobID, workerID string, from, to Status) (*Job, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ? AND worker_id IS NULL", jobID, from).
		Updates(map[string]any{
			"status":       to,
			"worker_id":    workerID,
			"claimed_at":   now,
			"heartbeat_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNoJobAvailable
	}
	return s.Get(ctx, jobID)
}

// Heartbeat refreshes the liveness timestamp for a job the caller holds.
func (s *GormStore) Heartbeat(ctx context.Context, jobID, workerID string) error {
	res := s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND worker_id = ?", jobID, workerID).
		Update("heartbeat_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimedByWorker
	}
	return nil
}

// Complete marks a job StatusOCRComplete and clears worker_id, the OCR
// pool's terminal success transition.
func (s *GormStore) Complete(ctx context.Context, jobID, workerID string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND worker_id = ?", jobID, workerID).
		Updates(map[string]any{
			"status":       StatusOCRComplete,
			"worker_id":    nil,
			"completed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimedByWorker
	}
	return nil
}

// CompleteWithMetadata moves a job to StatusExtractionComplete, clears
// worker_id, and merges metadata (e.g. the produced artifact_path) into its
// stored Metadata in the same update.
func (s *GormStore) CompleteWithMetadata(ctx context.Context, jobID, workerID string, metadata JSONMap) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job Job
		if err := tx.Where("id = ? AND worker_id = ?", jobID, workerID).Take(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotClaimedByWorker
			}
			return err
		}
		if job.Metadata == nil {
			job.Metadata = JSONMap{}
		}
		for k, v := range metadata {
			job.Metadata[k] = v
		}

		now := time.Now().UTC()
		return tx.Model(&Job{}).Where("id = ?", jobID).Updates(map[string]any{
			"status":       StatusExtractionComplete,
			"worker_id":    nil,
			"completed_at": now,
			"metadata":     job.Metadata,
		}).Error
	})
}

// MarkReadyForOCR merges metadata into a claimed job and moves it to
// StatusExtractionComplete too, clearing worker_id so ClaimForOCR can pick
// it back up instead of leaving it held by the extraction worker.
func (s *GormStore) MarkReadyForOCR(ctx context.Context, jobID, workerID string, metadata JSONMap) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job Job
		if err := tx.Where("id = ? AND worker_id = ?", jobID, workerID).Take(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotClaimedByWorker
			}
			return err
		}
		if job.Metadata == nil {
			job.Metadata = JSONMap{}
		}
		for k, v := range metadata {
			job.Metadata[k] = v
		}

		return tx.Model(&Job{}).Where("id = ?", jobID).Updates(map[string]any{
			"status":       StatusExtractionComplete,
			"worker_id":    nil,
			"claimed_at":   nil,
			"heartbeat_at": nil,
			"metadata":     job.Metadata,
		}).Error
	})
}

// Fail marks a job failed, bumping its attempt count. If deadLetter is true
// or attempts have been exhausted, the job moves to StatusError instead of
// being released back to pending.
func (s *GormStore) Fail(ctx context.Context, jobID, workerID, errMsg string, deadLetter bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job Job
		if err := tx.Where("id = ? AND worker_id = ?", jobID, workerID).Take(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotClaimedByWorker
			}
			return err
		}

		attempts := job.Attempts + 1
		status := StatusPending
		var workerIDVal any
		if deadLetter || attempts >= job.MaxAttempts {
			status = StatusError
			workerIDVal = workerID
		}

		updates := map[string]any{
			"status":     status,
			"attempts":   attempts,
			"last_error": errMsg,
			"worker_id":  workerIDVal,
		}
		if status == StatusPending {
			updates["claimed_at"] = nil
			updates["heartbeat_at"] = nil
		}

		return tx.Model(&Job{}).Where("id = ?", jobID).Updates(updates).Error
	})
}

// releaseTarget is the state an in-flight job rejoins once its lease is
// reclaimed: an abandoned OCR claim goes back to StatusExtractionComplete so
// the OCR pool can retry it, while an abandoned extraction claim goes back
// to StatusPending.
func releaseTarget(from Status) Status {
	if from == StatusOCRInProgress {
		return StatusExtractionComplete
	}
	return StatusPending
}

// Release returns an in-flight job to its pre-claim state without counting
// it as a failed attempt. Used by the reaper for expired leases.
func (s *GormStore) Release(ctx context.Context, jobID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job Job
		if err := tx.Where("id = ?", jobID).Take(&job).Error; err != nil {
			return err
		}
		return tx.Model(&Job{}).Where("id = ?", jobID).Updates(map[string]any{
			"status":       releaseTarget(job.Status),
			"worker_id":    nil,
			"claimed_at":   nil,
			"heartbeat_at": nil,
		}).Error
	})
}

// ReleaseIfOwnedBy releases jobID back to its pre-claim state only if it is
// still held by workerID, appending marker to LastError to identify the dead
// worker. Conditional on worker_id matching so the reaper never clobbers a
// job a legitimate worker has already reclaimed. Returns released=false if
// the job had already moved on.
func (s *GormStore) ReleaseIfOwnedBy(ctx context.Context, jobID, workerID, marker string) (bool, error) {
	released := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job Job
		if err := tx.Where("id = ? AND worker_id = ?", jobID, workerID).Take(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		res := tx.Model(&Job{}).Where("id = ? AND worker_id = ?", jobID, workerID).Updates(map[string]any{
			"status":       releaseTarget(job.Status),
			"worker_id":    nil,
			"claimed_at":   nil,
			"heartbeat_at": nil,
			"last_error":   marker,
		})
		if res.Error != nil {
			return res.Error
		}
		released = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return released, nil
}

// Get returns a job by ID.
func (s *GormStore) Get(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := s.db.WithContext(ctx).Where("id = ?", jobID).Take(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// ListExpired returns processing/ocr-in-progress jobs whose heartbeat is
// older than the given cutoff. Used by the reaper to find abandoned work.
func (s *GormStore) ListExpired(ctx context.Context, heartbeatOlderThan time.Time) ([]*Job, error) {
	var jobs []*Job
	err := s.db.WithContext(ctx).
		Where("status IN ? AND heartbeat_at < ?", []Status{StatusProcessing, StatusOCRInProgress}, heartbeatOlderThan).
		Find(&jobs).Error
	return jobs, err
}

// CountReadyForOCR reports how many registryType jobs are awaiting OCR.
func (s *GormStore) CountReadyForOCR(ctx context.Context, registryType string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Job{}).
		Where("status = ? AND registry_type = ?", StatusExtractionComplete, registryType).
		Count(&count).Error
	return int(count), err
}

// CreatePage inserts a new page row.
func (s *GormStore) CreatePage(ctx context.Context, page *Page) error {
	if page.ID == "" {
		page.ID = uuid.New().String()
	}
	if page.Status == 0 {
		page.Status = StatusPending
	}
	return s.db.WithContext(ctx).Create(page).Error
}

// UpdatePage persists changes to an existing page row.
func (s *GormStore) UpdatePage(ctx context.Context, page *Page) error {
	if page.ID == "" {
		return fmt.Errorf("jobqueue: UpdatePage requires a page ID")
	}
	return s.db.WithContext(ctx).Save(page).Error
}

// PagesForJob returns all pages belonging to a job, ordered by page number.
func (s *GormStore) PagesForJob(ctx context.Context, jobID string) ([]*Page, error) {
	var pages []*Page
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("page_num asc").Find(&pages).Error
	return pages, err
}

// CreateSession inserts a new business-registry session, defaulting its
// status to pending_company_selection.
func (s *GormStore) CreateSession(ctx context.Context, session *Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.Status == "" {
		session.Status = SessionPendingCompanySelection
	}
	return s.db.WithContext(ctx).Create(session).Error
}

// GetSession fetches one session by ID.
func (s *GormStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	if err := s.db.WithContext(ctx).Where("id = ?", sessionID).Take(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// CascadeSessionCompletion marks sessionID completed once every
// PersonalRightsSearch job pointing at it via ParentSessionID has reached a
// terminal status.
func (s *GormStore) CascadeSessionCompletion(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var children []Job
		if err := tx.Where("parent_session_id = ?", sessionID).Find(&children).Error; err != nil {
			return err
		}
		for _, child := range children {
			if !child.Status.Terminal() {
				return nil
			}
		}

		now := time.Now().UTC()
		return tx.Model(&Session{}).Where("id = ?", sessionID).Updates(map[string]any{
			"status":       SessionCompleted,
			"completed_at": now,
		}).Error
	})
}

var _ Store = (*GormStore)(nil)
