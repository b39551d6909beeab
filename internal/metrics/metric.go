// Package metrics provides cost and usage tracking for LLM/OCR operations.
package metrics

import "time"

// Metric represents a single recorded metric for an LLM or OCR call.
// Metrics are append-only records stored per-environment alongside job and
// page rows, with full attribution back to the job/page that produced them.
type Metric struct {
	ID string `gorm:"primaryKey" json:"id"`

	// Attribution (for filtering/aggregation)
	JobID      string `gorm:"index" json:"job_id,omitempty"`
	DocumentID string `gorm:"index" json:"document_id,omitempty"`
	Stage      string `gorm:"index" json:"stage,omitempty"`
	ItemKey    string `json:"item_key,omitempty"` // e.g., "page_0001"

	// Provider info
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Output reference (the artifact this call produced, if any)
	OutputRef  string `json:"output_ref,omitempty"`
	OutputType string `json:"output_type,omitempty"`

	// Cost and tokens
	CostUSD          float64 `json:"cost_usd,omitempty"`
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	ReasoningTokens  int     `json:"reasoning_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens,omitempty"`

	// Timing
	QueueSeconds     float64 `json:"queue_seconds,omitempty"`
	ExecutionSeconds float64 `json:"execution_seconds,omitempty"`
	TotalSeconds     float64 `json:"total_seconds,omitempty"`

	// Status
	Success   bool   `json:"success"`
	ErrorType string `json:"error_type,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName pins the table name so it doesn't pluralize to "metrics" vs
// whatever gorm's default namer would pick in a given environment DB.
func (Metric) TableName() string { return "metrics" }
