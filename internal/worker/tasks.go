package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/shattavibe/api/internal/model"
)

const (
	TaskTypeSweep   = "generation:sweep"
	TaskTypeArchive = "track:archive"

	QueueSweep   = "sweep"
	QueueArchive = "archive"
)

// ArchivePayload lists the final-quality audio of one job to copy into storage.
type ArchivePayload struct {
	TaskID string         `json:"taskId"`
	Tracks []ArchiveTrack `json:"tracks"`
}

type ArchiveTrack struct {
	ID       string `json:"id"`
	AudioURL string `json:"audioUrl"`
}

func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeSweep, nil)
}

func NewArchiveTask(taskID string, tracks []model.Track) (*asynq.Task, error) {
	payload := ArchivePayload{TaskID: taskID}
	for _, t := range tracks {
		if t.IsDownloadable() {
			payload.Tracks = append(payload.Tracks, ArchiveTrack{ID: t.ID, AudioURL: t.AudioURL})
		}
	}
	if len(payload.Tracks) == 0 {
		return nil, fmt.Errorf("no downloadable tracks for %s", taskID)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeArchive, data), nil
}

// Enqueuer is the part of asynq.Client used to schedule work.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ArchiveScheduler queues archive tasks. Repeated complete callbacks for
// one job collapse into the first queued task.
type ArchiveScheduler struct {
	client Enqueuer
}

func NewArchiveScheduler(client Enqueuer) *ArchiveScheduler {
	return &ArchiveScheduler{client: client}
}

func (s *ArchiveScheduler) ScheduleArchive(ctx context.Context, taskID string, tracks []model.Track) error {
	task, err := NewArchiveTask(taskID, tracks)
	if err != nil {
		return err
	}

	_, err = s.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueArchive),
		asynq.TaskID("archive:"+taskID),
		asynq.MaxRetry(5),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue archive task: %w", err)
	}
	return nil
}
