package database

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/sdko-org/gridgate/internal/models"
	"github.com/sdko-org/gridgate/internal/worker"
)

const writeTimeout = 2 * time.Second

// JobEventRecorder stores one JobEvent row per finished job. Rows are written
// on their own goroutine so the worker pool never waits on the database.
type JobEventRecorder struct {
	db  *gorm.DB
	log *logrus.Entry
	now func() time.Time
}

func NewJobEventRecorder(logger *logrus.Logger, db *gorm.DB) *JobEventRecorder {
	return &JobEventRecorder{
		db:  db,
		log: logger.WithField("component", "job_events"),
		now: time.Now,
	}
}

func (r *JobEventRecorder) JobFinished(ev worker.Event) {
	row := NewJobEvent(ev, r.now())
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
			r.log.WithError(err).WithField("job_id", row.JobID).Warn("Failed to save job event")
		}
	}()
}

// NewJobEvent converts a finished job to its audit row.
func NewJobEvent(ev worker.Event, finishedAt time.Time) models.JobEvent {
	rec := ev.Record
	return models.JobEvent{
		JobID:       rec.ID,
		Type:        string(rec.Type),
		Status:      string(rec.Status),
		ClientIP:    rec.ClientIP,
		CreatedAt:   rec.CreatedAt,
		FinishedAt:  finishedAt,
		Duration:    ev.Duration,
		Filename:    rec.ResultFilename,
		MediaType:   rec.ResultMediaType,
		ResultBytes: len(rec.ResultBytes),
		Error:       rec.Error,
	}
}
