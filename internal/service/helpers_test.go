package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/shattavibe/api/internal/client"
	"github.com/shattavibe/api/internal/model"
	"github.com/shattavibe/api/internal/store"
)

func newTestRecords(t *testing.T) (*store.RecordStore, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return store.NewRecordStore(db), db
}

type fixedIdentity struct {
	mu sync.Mutex
	id model.Identity
}

func (f *fixedIdentity) Current(context.Context) model.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

type fakeGenerator struct {
	mu     sync.Mutex
	calls  []client.GenerateMusicRequest
	nextID func(n int) string
	err    error
}

func (g *fakeGenerator) GenerateMusic(_ context.Context, req *client.GenerateMusicRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, *req)
	if g.err != nil {
		return "", g.err
	}
	if g.nextID != nil {
		return g.nextID(len(g.calls)), nil
	}
	return fmt.Sprintf("t-%d", len(g.calls)), nil
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type recordedBroadcast struct {
	kind   string
	taskID string
	status model.JobStatus
	tracks []model.Track
	msg    string
}

type fakeHub struct {
	mu     sync.Mutex
	events []recordedBroadcast
}

func (h *fakeHub) BroadcastProgress(taskID string, status model.JobStatus, _ model.CallbackType, tracks []model.Track) {
	h.add(recordedBroadcast{kind: "progress", taskID: taskID, status: status, tracks: tracks})
}

func (h *fakeHub) BroadcastComplete(taskID string, tracks []model.Track) {
	h.add(recordedBroadcast{kind: "complete", taskID: taskID, tracks: tracks})
}

func (h *fakeHub) BroadcastError(taskID string, _ string, message string) {
	h.add(recordedBroadcast{kind: "error", taskID: taskID, msg: message})
}

func (h *fakeHub) add(e recordedBroadcast) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *fakeHub) kinds() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.events))
	for i, e := range h.events {
		out[i] = e.kind
	}
	return out
}

type fakeArchiver struct {
	mu     sync.Mutex
	taskID string
	tracks []model.Track
}

func (a *fakeArchiver) ScheduleArchive(_ context.Context, taskID string, tracks []model.Track) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.taskID = taskID
	a.tracks = tracks
	return nil
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }
