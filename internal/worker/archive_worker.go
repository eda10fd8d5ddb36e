package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/shattavibe/api/internal/apperr"
	"github.com/shattavibe/api/internal/client"
	"github.com/shattavibe/api/internal/observability"
)

// ArchiveRecorder stores the archived location of a track.
type ArchiveRecorder interface {
	SetArchiveURL(ctx context.Context, taskID, vendorID, url string) error
}

// ArchiveWorker copies final-quality audio into object storage, since the
// vendor's file URLs expire.
type ArchiveWorker struct {
	storage    client.ArchiveStorage
	records    ArchiveRecorder
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *zap.Logger
}

func NewArchiveWorker(storage client.ArchiveStorage, records ArchiveRecorder, httpClient *http.Client, metrics *observability.Metrics, logger *zap.Logger) *ArchiveWorker {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveWorker{
		storage:    storage,
		records:    records,
		httpClient: httpClient,
		metrics:    metrics,
		logger:     logger,
	}
}

// ProcessTask archives every track of the payload. Tracks already in storage
// are only re-linked. A job deleted in the meantime ends the task.
func (w *ArchiveWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ArchivePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal archive payload: %w: %w", err, asynq.SkipRetry)
	}
	log := w.logger.With(zap.String("task_id", payload.TaskID))

	for _, track := range payload.Tracks {
		url, err := w.archive(ctx, payload.TaskID, track)
		if err != nil {
			w.metrics.Archive(observability.OutcomeError)
			return fmt.Errorf("failed to archive track %s: %w", track.ID, err)
		}

		if err := w.records.SetArchiveURL(ctx, payload.TaskID, track.ID, url); err != nil {
			if errors.Is(err, apperr.ErrJobNotFound) {
				log.Info("job gone, archive dropped", zap.String("track_id", track.ID))
				return nil
			}
			return err
		}
		log.Debug("track archived", zap.String("track_id", track.ID), zap.String("url", url))
	}
	return nil
}

func (w *ArchiveWorker) archive(ctx context.Context, taskID string, track ArchiveTrack) (string, error) {
	key := client.TrackArchiveKey(taskID, track.ID, track.AudioURL)

	exists, err := w.storage.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		w.metrics.Archive(observability.OutcomeExisting)
		return w.storage.PublicURL(key), nil
	}

	body, contentType, err := client.Fetch(ctx, w.httpClient, track.AudioURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	url, err := w.storage.Upload(ctx, key, body, contentType)
	if err != nil {
		return "", err
	}
	w.metrics.Archive(observability.OutcomeArchived)
	return url, nil
}
