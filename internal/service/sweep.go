package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shattavibe/api/internal/observability"
	"github.com/shattavibe/api/internal/store"
)

// DefaultStaleAfter bounds how long a job may sit without playable audio.
const DefaultStaleAfter = 30 * time.Minute

// StaleExpirer fails unfinished jobs created before a cutoff.
type StaleExpirer interface {
	ExpireStale(ctx context.Context, cutoff time.Time, message string) ([]store.ExpiredJob, error)
}

// SweepService fails jobs the vendor never delivered audio for, so that
// listings stop showing them as in progress.
type SweepService struct {
	records    StaleExpirer
	hub        ProgressBroadcaster
	metrics    *observability.Metrics
	staleAfter time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

func NewSweepService(records StaleExpirer, hub ProgressBroadcaster, metrics *observability.Metrics, staleAfter time.Duration, logger *zap.Logger) *SweepService {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SweepService{
		records:    records,
		hub:        hub,
		metrics:    metrics,
		staleAfter: staleAfter,
		now:        time.Now,
		logger:     logger,
	}
}

// TimeoutMessage is the error stored on jobs that timed out.
func TimeoutMessage(after time.Duration) string {
	return fmt.Sprintf("generation timed out after %s", after.Round(time.Second))
}

// Sweep runs one pass and returns the number of jobs it failed.
func (s *SweepService) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.staleAfter)
	msg := TimeoutMessage(s.staleAfter)

	expired, err := s.records.ExpireStale(ctx, cutoff, msg)
	s.metrics.StaleExpired(len(expired))
	for _, job := range expired {
		s.logger.Info("stale job expired", zap.String("task_id", job.TaskID), zap.String("partition", string(job.Kind)))
		if s.hub != nil {
			s.hub.BroadcastError(job.TaskID, "GENERATION_TIMEOUT", msg)
		}
	}
	if err != nil {
		return len(expired), fmt.Errorf("failed to expire stale jobs: %w", err)
	}
	return len(expired), nil
}
