package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shattavibe/api/internal/apperr"
	"github.com/shattavibe/api/internal/model"
	"github.com/shattavibe/api/internal/observability"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	seen  map[string]bool
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	for _, opt := range opts {
		if opt.Type() == asynq.TaskIDOpt {
			id := opt.Value().(string)
			if f.seen[id] {
				return nil, asynq.ErrTaskIDConflict
			}
			f.seen[id] = true
		}
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func TestArchiveScheduler_OnlyDownloadableTracks(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := NewArchiveScheduler(enq)

	err := s.ScheduleArchive(context.Background(), "t-1", []model.Track{
		{ID: "v-1", AudioURL: "https://cdn/a.mp3"},
		{ID: "v-2", StreamAudioURL: "https://cdn/stream"},
	})
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskTypeArchive, enq.tasks[0].Type())

	var payload ArchivePayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	assert.Equal(t, "t-1", payload.TaskID)
	assert.Equal(t, []ArchiveTrack{{ID: "v-1", AudioURL: "https://cdn/a.mp3"}}, payload.Tracks)
}

func TestArchiveScheduler_DuplicateIsNotAnError(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := NewArchiveScheduler(enq)
	tracks := []model.Track{{ID: "v-1", AudioURL: "https://cdn/a.mp3"}}

	require.NoError(t, s.ScheduleArchive(context.Background(), "t-1", tracks))
	require.NoError(t, s.ScheduleArchive(context.Background(), "t-1", tracks))
	assert.Len(t, enq.tasks, 1)

	enq.err = errors.New("redis down")
	assert.Error(t, s.ScheduleArchive(context.Background(), "t-2", tracks))
	assert.Error(t, s.ScheduleArchive(context.Background(), "t-3", nil))
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string]string
}

func (m *memStorage) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStorage) Upload(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = string(data)
	return m.PublicURL(key), nil
}

func (m *memStorage) PublicURL(key string) string {
	return "https://archive.test/" + key
}

type fakeRecorder struct {
	urls map[string]string
	err  error
}

func (f *fakeRecorder) SetArchiveURL(_ context.Context, taskID, vendorID, url string) error {
	if f.err != nil {
		return f.err
	}
	f.urls[taskID+"/"+vendorID] = url
	return nil
}

func archiveTask(t *testing.T, payload ArchivePayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(TaskTypeArchive, data)
}

func TestArchiveWorker_UploadsAndRecords(t *testing.T) {
	downloads := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downloads++
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	storage := &memStorage{objects: map[string]string{}}
	recorder := &fakeRecorder{urls: map[string]string{}}
	metrics := observability.New(prometheus.NewRegistry())
	w := NewArchiveWorker(storage, recorder, srv.Client(), metrics, nil)

	task := archiveTask(t, ArchivePayload{TaskID: "t-1", Tracks: []ArchiveTrack{{ID: "v-1", AudioURL: srv.URL + "/a.mp3"}}})
	require.NoError(t, w.ProcessTask(context.Background(), task))

	assert.Equal(t, "mp3-bytes", storage.objects["tracks/t-1/v-1.mp3"])
	assert.Equal(t, "https://archive.test/tracks/t-1/v-1.mp3", recorder.urls["t-1/v-1"])

	// A retry finds the object and skips the download.
	require.NoError(t, w.ProcessTask(context.Background(), task))
	assert.Equal(t, 1, downloads)
}

func TestArchiveWorker_DownloadFailureRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	w := NewArchiveWorker(&memStorage{objects: map[string]string{}}, &fakeRecorder{urls: map[string]string{}}, srv.Client(), nil, nil)
	task := archiveTask(t, ArchivePayload{TaskID: "t-1", Tracks: []ArchiveTrack{{ID: "v-1", AudioURL: srv.URL + "/a.mp3"}}})

	err := w.ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestArchiveWorker_JobGoneEndsTask(t *testing.T) {
	storage := &memStorage{objects: map[string]string{"tracks/t-1/v-1.mp3": "x"}}
	w := NewArchiveWorker(storage, &fakeRecorder{err: apperr.ErrJobNotFound}, nil, nil, nil)
	task := archiveTask(t, ArchivePayload{TaskID: "t-1", Tracks: []ArchiveTrack{{ID: "v-1", AudioURL: "https://cdn/a.mp3"}}})

	assert.NoError(t, w.ProcessTask(context.Background(), task))
}

func TestArchiveWorker_BadPayloadSkipsRetry(t *testing.T) {
	w := NewArchiveWorker(&memStorage{objects: map[string]string{}}, &fakeRecorder{urls: map[string]string{}}, nil, nil, nil)
	err := w.ProcessTask(context.Background(), asynq.NewTask(TaskTypeArchive, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

type countingSweeper struct {
	n   int
	err error
}

func (s *countingSweeper) Sweep(context.Context) (int, error) { return s.n, s.err }

func TestSweepWorker(t *testing.T) {
	assert.NoError(t, NewSweepWorker(&countingSweeper{n: 3}, nil).ProcessTask(context.Background(), NewSweepTask()))
	assert.Error(t, NewSweepWorker(&countingSweeper{err: errors.New("db down")}, nil).ProcessTask(context.Background(), NewSweepTask()))
}
