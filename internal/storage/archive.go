package storage

import (
	"context"
	"path"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sdko-org/gridgate/internal/jobs"
	"github.com/sdko-org/gridgate/internal/worker"
)

const (
	archiveAttempts = 3
	archiveTimeout  = 30 * time.Second
)

// ArchiveHook uploads the artifact of every completed job to
// {prefix}/{jobID}/{filename}. Failed jobs are ignored.
type ArchiveHook struct {
	store      Storage
	prefix     string
	log        *logrus.Entry
	retryDelay time.Duration
}

func NewArchiveHook(logger *logrus.Logger, store Storage, prefix string) *ArchiveHook {
	return &ArchiveHook{
		store:      store,
		prefix:     prefix,
		log:        logger.WithField("component", "archive"),
		retryDelay: time.Second,
	}
}

// Key returns the object key of a job artifact.
func (h *ArchiveHook) Key(rec jobs.Record) string {
	return path.Join(h.prefix, rec.ID, rec.ResultFilename)
}

func (h *ArchiveHook) JobFinished(ev worker.Event) {
	if ev.Record.Status != jobs.StatusComplete {
		return
	}
	go h.upload(ev.Record)
}

func (h *ArchiveHook) upload(rec jobs.Record) {
	key := h.Key(rec)
	log := h.log.WithFields(logrus.Fields{"job_id": rec.ID, "key": key})

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	delay := h.retryDelay
	for attempt := 1; attempt <= archiveAttempts; attempt++ {
		err := h.store.Put(ctx, key, rec.ResultBytes, rec.ResultMediaType)
		if err == nil {
			log.WithField("bytes", len(rec.ResultBytes)).Debug("Archived job artifact")
			return
		}
		log.WithError(err).WithField("attempt", attempt).Warn("Archive upload failed")

		if attempt == archiveAttempts {
			break
		}
		select {
		case <-ctx.Done():
			log.WithError(ctx.Err()).Error("Archive upload abandoned")
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
	log.Error("Archive upload failed after retries")
}
