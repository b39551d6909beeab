package jobqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store used by worker/pool/reaper tests that don't
// need a live Postgres instance.
type MemStore struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	pages    map[string]*Page
	sessions map[string]*Session
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		jobs:     make(map[string]*Job),
		pages:    make(map[string]*Page),
		sessions: make(map[string]*Session),
	}
}

func (s *MemStore) Enqueue(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == 0 {
		job.Status = StatusPending
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 5
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now

	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemStore) Claim(_ context.Context, workerID string, registryTypes []string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed := make(map[string]bool, len(registryTypes))
	for _, t := range registryTypes {
		allowed[t] = true
	}

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.jobs[ids[i]].CreatedAt.Before(s.jobs[ids[j]].CreatedAt)
	})

	for _, id := range ids {
		job := s.jobs[id]
		if job.Status != StatusPending || job.WorkerID != nil {
			continue
		}
		if len(allowed) > 0 && !allowed[job.RegistryType] {
			continue
		}

		now := time.Now().UTC()
		job.Status = StatusProcessing
		wid := workerID
		job.WorkerID = &wid
		job.ClaimedAt = &now
		job.HeartbeatAt = &now
		job.UpdatedAt = now

		cp := *job
		return &cp, nil
	}
	return nil, ErrNoJobAvailable
}

func (s *MemStore) ClaimForOCR(_ context.Context, workerID string, registryTypes []string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed := make(map[string]bool, len(registryTypes))
	for _, t := range registryTypes {
		allowed[t] = true
	}

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.jobs[ids[i]].CreatedAt.Before(s.jobs[ids[j]].CreatedAt)
	})

	for _, id := range ids {
		job := s.jobs[id]
		if job.Status != StatusExtractionComplete || job.WorkerID != nil {
			continue
		}
		if len(allowed) > 0 && !allowed[job.RegistryType] {
			continue
		}

		now := time.Now().UTC()
		job.Status = StatusOCRInProgress
		wid := workerID
		job.WorkerID = &wid
		job.ClaimedAt = &now
		job.HeartbeatAt = &now
		job.UpdatedAt = now

		cp := *job
		return &cp, nil
	}
	return nil, ErrNoJobAvailable
}

// ClaimByID and ClaimForOCRByID claim one specific job by ID instead of the
// next one off the queue, for the process-queue CLI's force-process path.
func (s *MemStore) ClaimByID(_ context.Context, jobID, workerID string) (*Job, error) {
	return s.claimSpecific(jobID, workerID, StatusPending, StatusProcessing)
}

func (s *MemStore) ClaimForOCRByID(_ context.Context, jobID, workerID string) (*Job, error) {
	return s.claimSpecific(jobID, workerID, StatusExtractionComplete, StatusOCRInProgress)
}

func (s *MemStore) claimSpecific(jobID, workerID string, from, to Status) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status != from || job.WorkerID != nil {
		return nil, ErrNoJobAvailable
	}

	now := time.Now().UTC()
	job.Status = to
	wid := workerID
	job.WorkerID = &wid
	job.ClaimedAt = &now
	job.HeartbeatAt = &now
	job.UpdatedAt = now

	cp := *job
	return &cp, nil
}

func (s *MemStore) MarkReadyForOCR(_ context.Context, jobID, workerID string, metadata JSONMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.WorkerID == nil || *job.WorkerID != workerID {
		return ErrNotClaimedByWorker
	}
	if job.Metadata == nil {
		job.Metadata = JSONMap{}
	}
	for k, v := range metadata {
		job.Metadata[k] = v
	}

	now := time.Now().UTC()
	job.Status = StatusExtractionComplete
	job.WorkerID = nil
	job.ClaimedAt = nil
	job.HeartbeatAt = nil
	job.UpdatedAt = now
	return nil
}

func (s *MemStore) Heartbeat(_ context.Context, jobID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.WorkerID == nil || *job.WorkerID != workerID {
		return ErrNotClaimedByWorker
	}
	now := time.Now().UTC()
	job.HeartbeatAt = &now
	job.UpdatedAt = now
	return nil
}

func (s *MemStore) Complete(_ context.Context, jobID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.WorkerID == nil || *job.WorkerID != workerID {
		return ErrNotClaimedByWorker
	}
	now := time.Now().UTC()
	job.Status = StatusOCRComplete
	job.WorkerID = nil
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (s *MemStore) CompleteWithMetadata(_ context.Context, jobID, workerID string, metadata JSONMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.WorkerID == nil || *job.WorkerID != workerID {
		return ErrNotClaimedByWorker
	}
	if job.Metadata == nil {
		job.Metadata = JSONMap{}
	}
	for k, v := range metadata {
		job.Metadata[k] = v
	}

	now := time.Now().UTC()
	job.Status = StatusExtractionComplete
	job.WorkerID = nil
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (s *MemStore) Fail(_ context.Context, jobID, workerID, errMsg string, deadLetter bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.WorkerID == nil || *job.WorkerID != workerID {
		return ErrNotClaimedByWorker
	}

	job.Attempts++
	job.LastError = errMsg
	now := time.Now().UTC()
	job.UpdatedAt = now

	if deadLetter || job.Attempts >= job.MaxAttempts {
		job.Status = StatusError
		return nil
	}
	job.Status = StatusPending
	job.WorkerID = nil
	job.ClaimedAt = nil
	job.HeartbeatAt = nil
	return nil
}

func (s *MemStore) Release(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	job.Status = releaseTarget(job.Status)
	job.WorkerID = nil
	job.ClaimedAt = nil
	job.HeartbeatAt = nil
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) ReleaseIfOwnedBy(_ context.Context, jobID, workerID, marker string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.WorkerID == nil || *job.WorkerID != workerID {
		return false, nil
	}
	job.Status = releaseTarget(job.Status)
	job.WorkerID = nil
	job.ClaimedAt = nil
	job.HeartbeatAt = nil
	job.LastError = marker
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemStore) Get(_ context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemStore) ListExpired(_ context.Context, heartbeatOlderThan time.Time) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Job
	for _, job := range s.jobs {
		if (job.Status == StatusProcessing || job.Status == StatusOCRInProgress) &&
			job.HeartbeatAt != nil && job.HeartbeatAt.Before(heartbeatOlderThan) {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) CountReadyForOCR(_ context.Context, registryType string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, job := range s.jobs {
		if job.Status == StatusExtractionComplete && job.RegistryType == registryType {
			count++
		}
	}
	return count, nil
}

func (s *MemStore) CreatePage(_ context.Context, page *Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if page.ID == "" {
		page.ID = uuid.New().String()
	}
	if page.Status == 0 {
		page.Status = StatusPending
	}
	now := time.Now().UTC()
	page.CreatedAt, page.UpdatedAt = now, now

	cp := *page
	s.pages[page.ID] = &cp
	return nil
}

func (s *MemStore) UpdatePage(_ context.Context, page *Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pages[page.ID]; !ok {
		return ErrNotFound
	}
	page.UpdatedAt = time.Now().UTC()
	cp := *page
	s.pages[page.ID] = &cp
	return nil
}

func (s *MemStore) PagesForJob(_ context.Context, jobID string) ([]*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Page
	for _, page := range s.pages {
		if page.JobID == jobID {
			cp := *page
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNum < out[j].PageNum })
	return out, nil
}

func (s *MemStore) CreateSession(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.Status == "" {
		session.Status = SessionPendingCompanySelection
	}
	now := time.Now().UTC()
	session.CreatedAt, session.UpdatedAt = now, now

	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *MemStore) GetSession(_ context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("jobqueue: session %s not found", sessionID)
	}
	cp := *session
	return &cp, nil
}

// CascadeSessionCompletion marks sessionID completed once every
// PersonalRightsSearch job pointing at it via ParentSessionID has reached a
// terminal status.
func (s *MemStore) CascadeSessionCompletion(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("jobqueue: session %s not found", sessionID)
	}

	for _, job := range s.jobs {
		if job.ParentSessionID == nil || *job.ParentSessionID != sessionID {
			continue
		}
		if !job.Status.Terminal() {
			return nil
		}
	}

	now := time.Now().UTC()
	session.Status = SessionCompleted
	session.CompletedAt = &now
	session.UpdatedAt = now
	return nil
}

var _ Store = (*MemStore)(nil)
