package drafts

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shattavibe/api/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(afero.NewMemMapFs(), "/data")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	s.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}
	return s
}

func TestStore_SaveAndGet(t *testing.T) {
	s := newTestStore(t)

	saved, err := s.Save(Draft{TaskID: "t-1", OwnerKey: "anonymous:d1", Prompt: "lofi beats"})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, model.JobStatusPending, saved.Status)
	assert.False(t, saved.CreatedAt.IsZero())

	got, ok, err := s.Get("t-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, saved.ID, got.ID)

	_, ok, err = s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ListNewestFirstPerOwner(t *testing.T) {
	s := newTestStore(t)

	for _, d := range []Draft{
		{TaskID: "t-1", OwnerKey: "anonymous:d1"},
		{TaskID: "t-2", OwnerKey: "anonymous:d2"},
		{TaskID: "t-3", OwnerKey: "anonymous:d1"},
	} {
		_, err := s.Save(d)
		require.NoError(t, err)
	}

	list, err := s.List("anonymous:d1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t-3", list[0].TaskID)
	assert.Equal(t, "t-1", list[1].TaskID)

	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_UpdateKeepsStatusMonotonic(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save(Draft{TaskID: "t-1", OwnerKey: "anonymous:d1"})
	require.NoError(t, err)

	d, err := s.Update("t-1", func(d *Draft) {
		d.Status = model.JobStatusCompleted
		d.Tracks = []model.Track{{ID: "tr-1", StreamAudioURL: "https://x/a.mp3"}}
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, d.Status)

	d, err = s.Update("t-1", func(d *Draft) { d.Status = model.JobStatusProcessing })
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, d.Status)
	assert.Len(t, d.Tracks, 1)
}

func TestStore_UpdateMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Update("nope", func(*Draft) {})
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestStore_CompletedCountAndClear(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"t-1", "t-2", "t-3"} {
		_, err := s.Save(Draft{TaskID: id, OwnerKey: "anonymous:d1"})
		require.NoError(t, err)
	}
	for _, id := range []string{"t-1", "t-3"} {
		_, err := s.Update(id, func(d *Draft) { d.Status = model.JobStatusCompleted })
		require.NoError(t, err)
	}

	n, err := s.CompletedCount("anonymous:d1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())

	n, err = s.CompletedCount("anonymous:d1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_CorruptFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/drafts.json", []byte("{nope"), 0o600))

	_, err := NewStore(fs, "/data").List("")
	assert.Error(t, err)
}

func TestDraft_ToJob(t *testing.T) {
	owner := model.Anonymous("d1")
	job := Draft{TaskID: "t-9", Prompt: "p", Status: model.JobStatusFailed, Error: "boom"}.ToJob(owner)

	assert.Equal(t, "t-9", job.TaskID)
	assert.Equal(t, owner, job.Owner)
	assert.Equal(t, "boom", job.ErrorMessage)
	assert.True(t, job.IsDone())
}
