// Package jobqueue implements the job/page row types and the atomic claim
// query that lets many worker processes pull work from one environment's
// database without double-processing a row.
package jobqueue

import "time"

// Status is the job/page lifecycle state. Numeric values are the external
// wire contract other services read directly off the row (spec.md §6) and
// must not be renumbered: 1 pending, 2 processing, 3 extraction-complete,
// 4 error, 5 ocr-complete, 6 ocr-in-progress. There is no separate code for
// "ready for OCR" - a job that needs OCR and one that doesn't both land on
// extraction-complete; the OCR pool's own claim query is what tells them
// apart, not the status value.
type Status int

const (
	StatusPending            Status = 1
	StatusProcessing         Status = 2
	StatusExtractionComplete Status = 3
	StatusError              Status = 4
	StatusOCRComplete        Status = 5
	StatusOCRInProgress      Status = 6
)

// Terminal reports whether s ends a job/search's extraction stage -
// StatusExtractionComplete counts as terminal even though ClaimForOCR can
// still pick an OCR-eligible job up from it. Used by session completion
// cascade to decide when every child of a Session has finished.
func (s Status) Terminal() bool {
	switch s {
	case StatusExtractionComplete, StatusError, StatusOCRComplete:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusExtractionComplete:
		return "extraction-complete"
	case StatusError:
		return "error"
	case StatusOCRComplete:
		return "ocr-complete"
	case StatusOCRInProgress:
		return "ocr-in-progress"
	default:
		return "unknown"
	}
}

// Job is a single extraction task against one registry document.
//
// Attempts is serialized under the "attemtps" key to preserve a long-
// standing typo in the external contract that downstream consumers already
// depend on; do not "fix" the JSON tag without a contract version bump.
type Job struct {
	ID           string     `gorm:"primaryKey" json:"id"`
	Environment  string     `gorm:"index" json:"environment"`
	RegistryType string     `json:"registry_type"`
	DocumentRef  string     `json:"document_ref"`
	Status       Status     `gorm:"index" json:"status"`
	WorkerID     *string    `gorm:"index" json:"worker_id,omitempty"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	HeartbeatAt  *time.Time `json:"heartbeat_at,omitempty"`
	Attempts     int        `json:"attemtps"`
	MaxAttempts  int        `json:"max_attempts"`
	LastError    string     `json:"last_error,omitempty"`
	Metadata     JSONMap    `gorm:"type:jsonb" json:"metadata,omitempty"`
	// ParentSessionID links a PersonalRightsSearch row (RegistryType
	// "personal-rights") to the BusinessRegistrySession that spawned it.
	// Extraction jobs leave this nil. A datastore-level rule is what
	// actually inserts these child rows in production (spec.md §3); this
	// repo's worker only ever consumes and completes them.
	ParentSessionID *string    `gorm:"index" json:"parent_session_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func (Job) TableName() string { return "jobs" }

// SessionStatus is the business-registry session lifecycle state (spec.md
// §3's "Session"). Distinct from Status since a session's states don't map
// onto a job's claim/heartbeat machinery - it has no worker_id of its own.
type SessionStatus string

const (
	SessionPendingCompanySelection SessionStatus = "pending_company_selection"
	SessionInProgress              SessionStatus = "in_progress"
	SessionCompleted               SessionStatus = "completed"
	SessionFailed                  SessionStatus = "failed"
)

// Session is a user-initiated multi-step business-registry search. Once a
// candidate company is selected, a set of PersonalRightsSearch child Jobs
// is spawned, one per name to search. Invariant: a session reaches a
// terminal state only once every child search is terminal (spec.md §3).
type Session struct {
	ID           string        `gorm:"primaryKey" json:"id"`
	Environment  string        `gorm:"index" json:"environment"`
	Status       SessionStatus `gorm:"index" json:"status"`
	ReqCompleted bool          `json:"req_completed"`
	Metadata     JSONMap       `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

func (Session) TableName() string { return "sessions" }

// Page tracks one page of a job through the OCR pipeline.
type Page struct {
	ID             string     `gorm:"primaryKey" json:"id"`
	JobID          string     `gorm:"index" json:"job_id"`
	PageNum        int        `json:"page_num"`
	Status         Status     `gorm:"index" json:"status"`
	LineCount      int        `json:"line_count,omitempty"`
	RawText        string     `json:"raw_text,omitempty"`
	SanitizedJSON  JSONMap    `gorm:"type:jsonb" json:"sanitized_json,omitempty"`
	Attempts       int        `json:"attemtps"`
	LastError      string     `json:"last_error,omitempty"`
	ArtifactRef    string     `json:"artifact_ref,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func (Page) TableName() string { return "pages" }

// JSONMap is a freeform JSON document stored in a jsonb column.
type JSONMap map[string]any
