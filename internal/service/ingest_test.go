package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shattavibe/api/internal/model"
	"github.com/shattavibe/api/internal/observability"
	"github.com/shattavibe/api/internal/store"
)

func newIngest(t *testing.T) (*IngestService, *store.RecordStore, *fakeHub, *fakeArchiver) {
	t.Helper()
	records, _ := newTestRecords(t)
	hub := &fakeHub{}
	archiver := &fakeArchiver{}
	svc := NewIngestService(records, hub, archiver, observability.New(prometheus.NewRegistry()), nil)
	return svc, records, hub, archiver
}

func callback(phase model.CallbackType, taskID string, tracks ...model.CallbackTrack) *model.CallbackPayload {
	return &model.CallbackPayload{
		Code: 200,
		Msg:  "All generated successfully.",
		Data: model.CallbackData{CallbackType: phase, TaskID: taskID, Tracks: tracks},
	}
}

func TestIngest_FirstPhaseStoresStreamTrack(t *testing.T) {
	svc, records, hub, _ := newIngest(t)
	ctx := context.Background()
	owner := model.Anonymous("D1")
	require.NoError(t, records.For(owner).Save(ctx, &model.GenerationJob{TaskID: "t-123", Owner: owner}))

	res, err := svc.Ingest(ctx, callback(model.CallbackFirst, "t-123", model.CallbackTrack{
		ID:             "v-1",
		StreamAudioURL: strPtr("https://x/a.mp3"),
		AudioURL:       strPtr(""),
		Duration:       floatPtr(0),
	}))
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, model.IdentityAnonymous, res.Partition)
	assert.Equal(t, model.JobStatusProcessing, res.Status)
	assert.Equal(t, model.CallbackAck{Status: "received", TaskID: "t-123", Scope: "anonymous"}, res.Ack("t-123"))

	job, err := records.For(owner).Find(ctx, "t-123")
	require.NoError(t, err)
	require.Len(t, job.Tracks, 1)
	assert.True(t, job.Tracks[0].IsPlayable())
	assert.False(t, job.Tracks[0].IsDownloadable())
	assert.Equal(t, []string{"progress", "complete"}, hub.kinds())
}

func TestIngest_MissingFieldsDefaultToEmpty(t *testing.T) {
	svc, records, _, _ := newIngest(t)
	ctx := context.Background()
	owner := model.Authenticated("A")
	require.NoError(t, records.For(owner).Save(ctx, &model.GenerationJob{TaskID: "t-1", Owner: owner}))

	_, err := svc.Ingest(ctx, callback(model.CallbackText, "t-1", model.CallbackTrack{ID: "v-1", Title: "Draft"}))
	require.NoError(t, err)

	job, err := records.For(owner).Find(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, job.Tracks, 1)
	assert.Empty(t, job.Tracks[0].AudioURL)
	assert.Empty(t, job.Tracks[0].StreamAudioURL)
	assert.Zero(t, job.Tracks[0].Duration)
	assert.False(t, job.Tracks[0].IsPlayable())
}

func TestIngest_CompleteTwiceKeepsOneRowPerTrack(t *testing.T) {
	svc, records, _, archiver := newIngest(t)
	ctx := context.Background()
	owner := model.Anonymous("D1")
	require.NoError(t, records.For(owner).Save(ctx, &model.GenerationJob{TaskID: "t-1", Owner: owner}))

	payload := callback(model.CallbackComplete, "t-1",
		model.CallbackTrack{ID: "v-1", AudioURL: strPtr("https://cdn/a.mp3"), StreamAudioURL: strPtr("https://s/a"), Duration: floatPtr(180)},
		model.CallbackTrack{ID: "v-2", AudioURL: strPtr("https://cdn/b.mp3"), StreamAudioURL: strPtr("https://s/b"), Duration: floatPtr(175)},
	)
	for i := 0; i < 2; i++ {
		res, err := svc.Ingest(ctx, payload)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, res.Status)
	}

	job, err := records.For(owner).Find(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Len(t, job.Tracks, 2)

	assert.Equal(t, "t-1", archiver.taskID)
	assert.Len(t, archiver.tracks, 2)
}

func TestIngest_LateFirstDoesNotRegressCompleted(t *testing.T) {
	svc, records, _, _ := newIngest(t)
	ctx := context.Background()
	owner := model.Anonymous("D1")
	require.NoError(t, records.For(owner).Save(ctx, &model.GenerationJob{TaskID: "t-1", Owner: owner}))

	_, err := svc.Ingest(ctx, callback(model.CallbackComplete, "t-1",
		model.CallbackTrack{ID: "v-1", AudioURL: strPtr("https://cdn/a.mp3"), StreamAudioURL: strPtr("https://s/a")}))
	require.NoError(t, err)

	res, err := svc.Ingest(ctx, callback(model.CallbackFirst, "t-1",
		model.CallbackTrack{ID: "v-1", StreamAudioURL: strPtr("https://s/a")}))
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, res.Status)

	job, err := records.For(owner).Find(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, "https://cdn/a.mp3", job.Tracks[0].AudioURL)
}

func TestIngest_ErrorMarksFailed(t *testing.T) {
	svc, records, hub, _ := newIngest(t)
	ctx := context.Background()
	owner := model.Authenticated("A")
	require.NoError(t, records.For(owner).Save(ctx, &model.GenerationJob{TaskID: "t-1", Owner: owner}))

	payload := &model.CallbackPayload{
		Code: 400,
		Msg:  "Song description contains artist name",
		Data: model.CallbackData{CallbackType: model.CallbackError, TaskID: "t-1"},
	}
	res, err := svc.Ingest(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, res.Status)

	job, err := records.For(owner).Find(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, "Song description contains artist name", job.ErrorMessage)
	assert.Equal(t, []string{"error"}, hub.kinds())

	// A repeated failure is acknowledged without touching the row.
	_, err = svc.Ingest(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"error"}, hub.kinds())
}

func TestIngest_UnknownTaskIsIgnored(t *testing.T) {
	svc, _, hub, _ := newIngest(t)

	res, err := svc.Ingest(context.Background(), callback(model.CallbackComplete, "t-ghost",
		model.CallbackTrack{ID: "v-1", AudioURL: strPtr("https://cdn/a.mp3")}))
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Equal(t, "ignored", res.Ack("t-ghost").Status)
	assert.Empty(t, hub.kinds())
}

func TestIngest_NoTracksIsAcknowledged(t *testing.T) {
	svc, records, _, _ := newIngest(t)
	ctx := context.Background()
	owner := model.Anonymous("D1")
	require.NoError(t, records.For(owner).Save(ctx, &model.GenerationJob{TaskID: "t-1", Owner: owner}))

	res, err := svc.Ingest(ctx, callback(model.CallbackText, "t-1"))
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, model.JobStatusPending, res.Status)
}

func TestIngest_FailureWithoutPhaseMarksFailed(t *testing.T) {
	svc, records, _, _ := newIngest(t)
	ctx := context.Background()
	owner := model.Anonymous("D1")
	require.NoError(t, records.For(owner).Save(ctx, &model.GenerationJob{TaskID: "t-err", Owner: owner}))

	res, err := svc.Ingest(ctx, &model.CallbackPayload{
		Code: 501,
		Msg:  "Audio generation failed",
		Data: model.CallbackData{TaskID: "t-err", Tracks: []model.CallbackTrack{{Title: "no id"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, res.Status)

	job, err := records.For(owner).Find(ctx, "t-err")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, "Audio generation failed", job.ErrorMessage)
	assert.Empty(t, job.Tracks)
}

func TestIngest_TrackWithoutIDSkipped(t *testing.T) {
	svc, records, _, _ := newIngest(t)
	ctx := context.Background()
	owner := model.Anonymous("D1")
	require.NoError(t, records.For(owner).Save(ctx, &model.GenerationJob{TaskID: "t-1", Owner: owner}))

	res, err := svc.Ingest(ctx, callback(model.CallbackFirst, "t-1",
		model.CallbackTrack{StreamAudioURL: strPtr("https://cdn/orphan")},
		model.CallbackTrack{ID: "v-1", StreamAudioURL: strPtr("https://cdn/v-1")},
	))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tracks)

	job, err := records.For(owner).Find(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, job.Tracks, 1)
	assert.Equal(t, "v-1", job.Tracks[0].ID)
}

func TestIngest_KeepsSourceURLs(t *testing.T) {
	svc, records, _, _ := newIngest(t)
	ctx := context.Background()
	owner := model.Authenticated("A")
	require.NoError(t, records.For(owner).Save(ctx, &model.GenerationJob{TaskID: "t-1", Owner: owner}))

	_, err := svc.Ingest(ctx, callback(model.CallbackFirst, "t-1", model.CallbackTrack{
		ID:                   "v-1",
		StreamAudioURL:       strPtr("https://cdn/stream"),
		SourceStreamAudioURL: strPtr("https://origin/stream"),
		SourceImageURL:       strPtr("https://origin/cover.jpg"),
	}))
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, callback(model.CallbackComplete, "t-1", model.CallbackTrack{
		ID:             "v-1",
		AudioURL:       strPtr("https://cdn/final.mp3"),
		SourceAudioURL: strPtr("https://origin/final.mp3"),
	}))
	require.NoError(t, err)

	job, err := records.For(owner).Find(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, job.Tracks, 1)
	track := job.Tracks[0]
	assert.Equal(t, "https://origin/final.mp3", track.SourceAudioURL)
	assert.Equal(t, "https://origin/stream", track.SourceStreamAudioURL)
	assert.Equal(t, "https://origin/cover.jpg", track.SourceImageURL)
}
