package environment

import (
	"gorm.io/gorm"

	"github.com/jackzampolin/registryctl/internal/jobqueue"
	"github.com/jackzampolin/registryctl/internal/metrics"
)

// AutoMigrate creates or updates the tables one environment's database
// needs: the job queue and its per-page results, plus that environment's
// cost/latency metrics.
//
// Grounded on the teacher's dropped internal/data/db migrate.go
// (AutoMigrateAll's one-call-per-concern shape), scoped here to a single
// environment instead of one process-wide database.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&jobqueue.Job{},
		&jobqueue.Page{},
		&jobqueue.Session{},
		&metrics.Metric{},
	)
}
