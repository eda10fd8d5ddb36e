package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shattavibe/api/internal/apperr"
	"github.com/shattavibe/api/internal/model"
	"github.com/shattavibe/api/internal/store"
)

func completeJob(t *testing.T, records *store.RecordStore, owner model.Identity, taskID string) {
	t.Helper()
	ctx := context.Background()
	p := records.For(owner)
	require.NoError(t, p.Save(ctx, &model.GenerationJob{TaskID: taskID, Owner: owner}))
	require.NoError(t, p.UpdateStatus(ctx, taskID, model.JobStatusCompleted, ""))
}

func TestQuotaTracker_Monotonic(t *testing.T) {
	records, _ := newTestRecords(t)
	q := NewQuotaTracker(records, 2, nil)
	ctx := context.Background()
	device := model.Anonymous("D1")

	remaining, err := q.Remaining(ctx, device)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining.Count)

	completeJob(t, records, device, "t-1")
	remaining, err = q.Remaining(ctx, device)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining.Count)

	completeJob(t, records, device, "t-2")
	remaining, err = q.Remaining(ctx, device)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining.Count)

	reached, err := q.HasReachedLimit(ctx, device)
	require.NoError(t, err)
	assert.True(t, reached)

	completeJob(t, records, device, "t-3")
	remaining, err = q.Remaining(ctx, device)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining.Count)
}

func TestQuotaTracker_CountsOnlyCompletedJobsOfTheDevice(t *testing.T) {
	records, _ := newTestRecords(t)
	q := NewQuotaTracker(records, 2, nil)
	ctx := context.Background()

	completeJob(t, records, model.Anonymous("D2"), "t-other")
	require.NoError(t, records.For(model.Anonymous("D1")).Save(ctx, &model.GenerationJob{TaskID: "t-pending", Owner: model.Anonymous("D1")}))

	remaining, err := q.Remaining(ctx, model.Anonymous("D1"))
	require.NoError(t, err)
	assert.Equal(t, 2, remaining.Count)
}

func TestQuotaTracker_AuthenticatedIsUnlimited(t *testing.T) {
	records, _ := newTestRecords(t)
	q := NewQuotaTracker(records, 2, nil)
	account := model.Authenticated("A")
	for _, id := range []string{"t-1", "t-2", "t-3"} {
		completeJob(t, records, account, id)
	}

	remaining, err := q.Remaining(context.Background(), account)
	require.NoError(t, err)
	assert.True(t, remaining.Unlimited)
	assert.Equal(t, "unlimited", remaining.String())

	reached, err := q.HasReachedLimit(context.Background(), account)
	require.NoError(t, err)
	assert.False(t, reached)
}

func TestQuotaTracker_CountFailureIsRestrictive(t *testing.T) {
	records, db := newTestRecords(t)
	q := NewQuotaTracker(records, 2, nil)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	remaining, err := q.Remaining(context.Background(), model.Anonymous("D1"))
	assert.True(t, errors.Is(err, apperr.ErrPersistence))
	assert.True(t, remaining.Exhausted())

	reached, err := q.HasReachedLimit(context.Background(), model.Anonymous("D1"))
	assert.Error(t, err)
	assert.True(t, reached)
}

func TestQuotaTracker_DefaultLimit(t *testing.T) {
	q := NewQuotaTracker(nil, 0, nil)
	assert.Equal(t, DefaultFreeLimit, q.FreeLimit())
}

type stubDraftCounter struct {
	n   int
	err error
	key string
}

func (s *stubDraftCounter) CompletedCount(ownerKey string) (int, error) {
	s.key = ownerKey
	return s.n, s.err
}

func TestQuotaTracker_DraftFallbackOnCountFailure(t *testing.T) {
	records, db := newTestRecords(t)
	local := &stubDraftCounter{n: 1}
	q := NewQuotaTracker(records, 2, nil, WithDraftFallback(local))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	device := model.Anonymous("D1")

	remaining, err := q.Remaining(context.Background(), device)
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Equal(t, 1, remaining.Count)
	assert.Equal(t, "anonymous:D1", local.key)

	// Submissions stay blocked while the authoritative count is unknown.
	reached, err := q.HasReachedLimit(context.Background(), device)
	assert.Error(t, err)
	assert.True(t, reached)

	local.err = errors.New("drafts unreadable")
	remaining, _ = q.Remaining(context.Background(), device)
	assert.True(t, remaining.Exhausted())
}

func TestQuotaTracker_DraftFallbackUnusedWhenStoreHealthy(t *testing.T) {
	records, _ := newTestRecords(t)
	local := &stubDraftCounter{n: 2}
	q := NewQuotaTracker(records, 2, nil, WithDraftFallback(local))

	remaining, err := q.Remaining(context.Background(), model.Anonymous("D1"))
	require.NoError(t, err)
	assert.Equal(t, 2, remaining.Count)
	assert.Empty(t, local.key)
}
