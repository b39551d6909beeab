package metrics

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Query provides queries for metrics against one environment's database.
type Query struct {
	db *gorm.DB
}

// NewQuery creates a new metrics query helper bound to one environment's DB.
func NewQuery(db *gorm.DB) *Query {
	return &Query{db: db}
}

// Filter specifies query filters.
type Filter struct {
	JobID      string
	DocumentID string
	Stage      string
	Provider   string
	Model      string
	OutputRef  string
	After      time.Time
	Before     time.Time
	Success    *bool // nil = any, true = success only, false = errors only
}

func (f Filter) apply(tx *gorm.DB) *gorm.DB {
	if f.JobID != "" {
		tx = tx.Where("job_id = ?", f.JobID)
	}
	if f.DocumentID != "" {
		tx = tx.Where("document_id = ?", f.DocumentID)
	}
	if f.Stage != "" {
		tx = tx.Where("stage = ?", f.Stage)
	}
	if f.Provider != "" {
		tx = tx.Where("provider = ?", f.Provider)
	}
	if f.Model != "" {
		tx = tx.Where("model = ?", f.Model)
	}
	if f.OutputRef != "" {
		tx = tx.Where("output_ref = ?", f.OutputRef)
	}
	if !f.After.IsZero() {
		tx = tx.Where("created_at > ?", f.After)
	}
	if !f.Before.IsZero() {
		tx = tx.Where("created_at < ?", f.Before)
	}
	if f.Success != nil {
		tx = tx.Where("success = ?", *f.Success)
	}
	return tx
}

// List returns metrics matching the filter, most recent first.
// limit <= 0 means no limit.
func (q *Query) List(ctx context.Context, f Filter, limit int) ([]Metric, error) {
	tx := f.apply(q.db.WithContext(ctx)).Order("created_at desc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}

	var metrics []Metric
	if err := tx.Find(&metrics).Error; err != nil {
		return nil, err
	}
	return metrics, nil
}
