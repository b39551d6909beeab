package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jackzampolin/registryctl/internal/providers"
)

// Recorder handles recording metrics to an environment's database.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder creates a new metrics recorder bound to one environment's DB.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// RecordOpts provides context for a metric recording.
type RecordOpts struct {
	JobID      string
	DocumentID string
	Stage      string
	ItemKey    string // e.g., "page_0001"
	OutputRef  string // Stable reference to the artifact this call produced
	OutputType string // e.g., "page_text", "sanitized_json"
}

// Record stores a single metric.
func (r *Recorder) Record(ctx context.Context, m Metric) (string, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return "", fmt.Errorf("record metric: %w", err)
	}
	return m.ID, nil
}

// RecordLLMCall records metrics from an LLM chat result.
func (r *Recorder) RecordLLMCall(ctx context.Context, opts RecordOpts, result *providers.ChatResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("nil chat result")
	}

	m := Metric{
		JobID:      opts.JobID,
		DocumentID: opts.DocumentID,
		Stage:      opts.Stage,
		ItemKey:    opts.ItemKey,
		OutputRef:  opts.OutputRef,
		OutputType: opts.OutputType,

		Provider: result.Provider,
		Model:    result.ModelUsed,

		CostUSD:          result.CostUSD,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		ReasoningTokens:  result.ReasoningTokens,
		TotalTokens:      result.TotalTokens,

		QueueSeconds:     result.QueueTime.Seconds(),
		ExecutionSeconds: result.ExecutionTime.Seconds(),
		TotalSeconds:     result.TotalTime.Seconds(),

		Success:   result.Success,
		ErrorType: result.ErrorType,
	}

	return r.Record(ctx, m)
}

// RecordOCRCall records metrics from an OCR result.
func (r *Recorder) RecordOCRCall(ctx context.Context, opts RecordOpts, provider string, result *providers.OCRResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("nil OCR result")
	}

	m := Metric{
		JobID:      opts.JobID,
		DocumentID: opts.DocumentID,
		Stage:      opts.Stage,
		ItemKey:    opts.ItemKey,
		OutputRef:  opts.OutputRef,
		OutputType: opts.OutputType,

		Provider: provider,

		CostUSD:          result.CostUSD,
		ExecutionSeconds: result.ExecutionTime.Seconds(),
		TotalSeconds:     result.ExecutionTime.Seconds(),

		Success: result.Success,
	}

	if result.ErrorMessage != "" {
		m.ErrorType = "ocr_error"
	}

	return r.Record(ctx, m)
}

// RecordError records a failed operation as a metric.
func (r *Recorder) RecordError(ctx context.Context, opts RecordOpts, provider, model, errorType string, duration time.Duration) (string, error) {
	m := Metric{
		JobID:      opts.JobID,
		DocumentID: opts.DocumentID,
		Stage:      opts.Stage,
		ItemKey:    opts.ItemKey,

		Provider: provider,
		Model:    model,

		TotalSeconds: duration.Seconds(),

		Success:   false,
		ErrorType: errorType,
	}

	return r.Record(ctx, m)
}
