package metrics

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// UpdateOutputRef updates a metric record with a reference to the artifact
// its call ultimately produced. outputRef is optional; if empty, only the
// type is updated.
func UpdateOutputRef(ctx context.Context, db *gorm.DB, metricID, outputType, outputRef string) error {
	if db == nil {
		return fmt.Errorf("db is nil")
	}
	if metricID == "" || outputType == "" {
		return nil
	}

	updates := map[string]any{"output_type": outputType}
	if outputRef != "" {
		updates["output_ref"] = outputRef
	}

	if err := db.WithContext(ctx).Model(&Metric{}).Where("id = ?", metricID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update metric output ref: %w", err)
	}
	return nil
}
