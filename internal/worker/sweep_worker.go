package worker

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// SweepWorker fails jobs that never produced audio. It is enqueued
// periodically by the scheduler.
type SweepWorker struct {
	sweeper Sweeper
	logger  *zap.Logger
}

func NewSweepWorker(sweeper Sweeper, logger *zap.Logger) *SweepWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SweepWorker{sweeper: sweeper, logger: logger}
}

func (w *SweepWorker) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	n, err := w.sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		w.logger.Info("sweep finished", zap.Int("expired", n))
	}
	return nil
}
