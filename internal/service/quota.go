package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/shattavibe/api/internal/model"
	"github.com/shattavibe/api/internal/store"
)

// DefaultFreeLimit is the number of completed generations an anonymous
// device gets before it must sign in.
const DefaultFreeLimit = 2

// PartitionSource selects the Record Store partition of an identity.
type PartitionSource interface {
	For(id model.Identity) store.Partition
}

// DraftCounter counts the completed local drafts of an owner key.
type DraftCounter interface {
	CompletedCount(ownerKey string) (int, error)
}

// QuotaTracker derives the remaining free generations from the Record Store.
// Nothing is cached: every answer reflects the current completed count.
type QuotaTracker struct {
	records   PartitionSource
	drafts    DraftCounter
	freeLimit int
	logger    *zap.Logger
}

type QuotaOption func(*QuotaTracker)

// WithDraftFallback estimates the anonymous count from local drafts while
// the Record Store cannot be read.
func WithDraftFallback(d DraftCounter) QuotaOption {
	return func(q *QuotaTracker) {
		q.drafts = d
	}
}

func NewQuotaTracker(records PartitionSource, freeLimit int, logger *zap.Logger, opts ...QuotaOption) *QuotaTracker {
	if freeLimit <= 0 {
		freeLimit = DefaultFreeLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &QuotaTracker{
		records:   records,
		freeLimit: freeLimit,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// FreeLimit returns the configured number of free generations.
func (q *QuotaTracker) FreeLimit() int {
	return q.freeLimit
}

// Remaining returns max(0, limit - completed) for anonymous identities and
// unlimited for authenticated ones. On a count failure the error is always
// returned; the value is the local draft estimate when one is configured and
// readable, zero otherwise.
func (q *QuotaTracker) Remaining(ctx context.Context, id model.Identity) (model.Remaining, error) {
	if id.IsAuthenticated() {
		return model.Remaining{Unlimited: true}, nil
	}

	completed, err := q.records.For(id).CountByStatus(ctx, id, model.JobStatusCompleted)
	if err != nil {
		q.logger.Warn("quota count failed", zap.String("owner", id.Key()), zap.Error(err))
		if q.drafts == nil {
			return model.Remaining{}, err
		}
		local, derr := q.drafts.CompletedCount(id.Key())
		if derr != nil {
			return model.Remaining{}, err
		}
		return q.left(int64(local)), err
	}
	return q.left(completed), nil
}

func (q *QuotaTracker) left(completed int64) model.Remaining {
	left := q.freeLimit - int(completed)
	if left < 0 {
		left = 0
	}
	return model.Remaining{Count: left}
}

// HasReachedLimit reports whether no free generation is left. It is always
// false for authenticated identities and true when the count failed, draft
// estimate or not.
func (q *QuotaTracker) HasReachedLimit(ctx context.Context, id model.Identity) (bool, error) {
	remaining, err := q.Remaining(ctx, id)
	if err != nil {
		return true, err
	}
	return remaining.Exhausted(), nil
}
