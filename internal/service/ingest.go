package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/shattavibe/api/internal/apperr"
	"github.com/shattavibe/api/internal/model"
	"github.com/shattavibe/api/internal/observability"
	"github.com/shattavibe/api/internal/store"
)

// JobLocator finds the partition holding a task id.
type JobLocator interface {
	Locate(ctx context.Context, taskID string) (store.Partition, *model.GenerationJob, error)
}

// ProgressBroadcaster pushes ingestion events to live subscribers.
type ProgressBroadcaster interface {
	BroadcastProgress(taskID string, status model.JobStatus, phase model.CallbackType, tracks []model.Track)
	BroadcastComplete(taskID string, tracks []model.Track)
	BroadcastError(taskID string, code, message string)
}

// ArchiveScheduler queues copying of final audio into object storage.
type ArchiveScheduler interface {
	ScheduleArchive(ctx context.Context, taskID string, tracks []model.Track) error
}

// IngestResult describes what a callback changed.
type IngestResult struct {
	Found     bool
	Partition model.IdentityKind
	Status    model.JobStatus
	Tracks    int
}

// Ack converts the result into the body returned to the vendor.
func (r IngestResult) Ack(taskID string) model.CallbackAck {
	if !r.Found {
		return model.CallbackAck{Status: "ignored", TaskID: taskID, Note: "Task not found in database"}
	}
	ack := model.CallbackAck{Status: "received", TaskID: taskID}
	if r.Partition == model.IdentityAnonymous {
		ack.Scope = string(model.IdentityAnonymous)
	}
	return ack
}

// IngestService applies vendor callbacks to the Record Store. Deliveries
// are at-least-once: upserts and the monotonic status rule make repeats safe.
type IngestService struct {
	records  JobLocator
	hub      ProgressBroadcaster
	archiver ArchiveScheduler
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func NewIngestService(records JobLocator, hub ProgressBroadcaster, archiver ArchiveScheduler, metrics *observability.Metrics, logger *zap.Logger) *IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{
		records:  records,
		hub:      hub,
		archiver: archiver,
		metrics:  metrics,
		logger:   logger,
	}
}

// Ingest applies one callback. Unknown task ids are acknowledged and
// dropped. Only storage failures are returned, so the vendor retries them.
func (s *IngestService) Ingest(ctx context.Context, payload *model.CallbackPayload) (IngestResult, error) {
	started := time.Now()
	defer func() { s.metrics.ObserveIngest(time.Since(started).Seconds()) }()

	phase := payload.Data.CallbackType
	taskID := payload.Data.TaskID
	log := s.logger.With(zap.String("task_id", taskID), zap.String("callback_type", string(phase)), zap.Int("code", payload.Code))

	partition, job, err := s.records.Locate(ctx, taskID)
	if err != nil {
		if errors.Is(err, apperr.ErrJobNotFound) {
			log.Info("callback for unknown task ignored")
			s.metrics.Callback(string(phase), observability.OutcomeIgnored)
			return IngestResult{}, nil
		}
		s.metrics.Callback(string(phase), observability.OutcomeError)
		return IngestResult{}, err
	}

	result := IngestResult{Found: true, Partition: partition.Kind(), Status: job.Status}

	if !payload.Succeeded() {
		msg := payload.Msg
		if msg == "" {
			msg = "music generation failed"
		}
		if job.Status.IsTerminal() {
			log.Info("failure callback after terminal status ignored", zap.String("status", string(job.Status)))
			s.metrics.Callback(string(phase), observability.OutcomeIgnored)
			return result, nil
		}
		if err := partition.UpdateStatus(ctx, taskID, model.JobStatusFailed, msg); err != nil {
			if !errors.Is(err, apperr.ErrInvalidTransition) {
				s.metrics.Callback(string(phase), observability.OutcomeError)
				return result, err
			}
			log.Info("failure callback lost the race to a terminal status")
		} else {
			result.Status = model.JobStatusFailed
			s.broadcastError(taskID, msg)
		}
		log.Info("generation failed", zap.String("msg", msg))
		s.metrics.Callback(string(phase), observability.OutcomeFailed)
		return result, nil
	}

	tracks := make([]model.Track, 0, len(payload.Data.Tracks))
	for i, t := range payload.Data.Tracks {
		if t.ID == "" {
			log.Warn("callback track without id skipped", zap.Int("index", i))
			continue
		}
		tracks = append(tracks, t.ToTrack())
	}
	if len(tracks) == 0 {
		log.Info("callback carried no tracks yet")
		s.metrics.Callback(string(phase), observability.OutcomeReceived)
		return result, nil
	}

	if err := partition.UpsertTracks(ctx, taskID, tracks); err != nil {
		s.metrics.Callback(string(phase), observability.OutcomeError)
		return result, err
	}
	result.Tracks = len(tracks)
	s.metrics.TracksUpserted(string(partition.Kind()), len(tracks))

	next := model.JobStatusProcessing
	if phase == model.CallbackComplete {
		next = model.JobStatusCompleted
	}
	if err := partition.UpdateStatus(ctx, taskID, next, ""); err != nil {
		if !errors.Is(err, apperr.ErrInvalidTransition) {
			s.metrics.Callback(string(phase), observability.OutcomeError)
			return result, err
		}
		log.Debug("status already past callback phase", zap.String("status", string(job.Status)))
	} else {
		result.Status = next
	}

	s.broadcast(taskID, result.Status, phase, tracks)
	if phase == model.CallbackComplete {
		s.scheduleArchive(ctx, log, taskID, tracks)
	}

	log.Info("callback applied", zap.Int("tracks", len(tracks)), zap.String("status", string(result.Status)))
	s.metrics.Callback(string(phase), observability.OutcomeReceived)
	return result, nil
}

func (s *IngestService) broadcast(taskID string, status model.JobStatus, phase model.CallbackType, tracks []model.Track) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastProgress(taskID, status, phase, tracks)
	// Playable audio is what completes a generation for listeners.
	if model.HasPlayable(tracks) {
		s.hub.BroadcastComplete(taskID, model.PlayableTracks(tracks))
	}
}

func (s *IngestService) broadcastError(taskID, msg string) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastError(taskID, "VENDOR_JOB_FAILED", msg)
}

func (s *IngestService) scheduleArchive(ctx context.Context, log *zap.Logger, taskID string, tracks []model.Track) {
	if s.archiver == nil {
		return
	}
	var downloadable []model.Track
	for _, t := range tracks {
		if t.IsDownloadable() {
			downloadable = append(downloadable, t)
		}
	}
	if len(downloadable) == 0 {
		return
	}
	if err := s.archiver.ScheduleArchive(ctx, taskID, downloadable); err != nil {
		log.Warn("failed to schedule track archive", zap.Error(err))
	}
}
