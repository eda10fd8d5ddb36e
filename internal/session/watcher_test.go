package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shattavibe/api/internal/event"
	"github.com/shattavibe/api/internal/model"
)

type switchableIdentity struct {
	mu    sync.Mutex
	id    model.Identity
	calls atomic.Int32
}

func (s *switchableIdentity) Current(context.Context) model.Identity {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *switchableIdentity) set(id model.Identity) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

type recordingReconciler struct {
	mu      sync.Mutex
	changes [][2]model.Identity
	gate    chan struct{}
	active  atomic.Int32
	overlap atomic.Bool
}

func (r *recordingReconciler) Reconcile(_ context.Context, prev, next model.Identity) error {
	if r.active.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.active.Add(-1)
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	r.changes = append(r.changes, [2]model.Identity{prev, next})
	r.mu.Unlock()
	return nil
}

func (r *recordingReconciler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

type busSource struct{ *event.Bus }

func (b busSource) Events() (<-chan struct{}, func()) { return b.Subscribe() }

func TestWatcher_NoPassWithoutKeyChange(t *testing.T) {
	ids := &switchableIdentity{id: model.Anonymous("dev-1")}
	rec := &recordingReconciler{}
	w := New(ids, WithDebounce(5*time.Millisecond), WithReconciler(rec))
	defer w.Close()
	w.Prime(context.Background())

	w.Notify()
	require.Eventually(t, func() bool { return ids.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 0, w.Passes())
}

func TestWatcher_ReconcilesOnKeyChange(t *testing.T) {
	ids := &switchableIdentity{id: model.Anonymous("dev-1")}
	rec := &recordingReconciler{}
	w := New(ids, WithDebounce(5*time.Millisecond), WithReconciler(rec))
	defer w.Close()
	w.Prime(context.Background())

	ids.set(model.Authenticated("acct-1"))
	w.Notify()

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	change := rec.changes[0]
	rec.mu.Unlock()
	assert.Equal(t, "anonymous:dev-1", change[0].Key())
	assert.Equal(t, "authenticated:acct-1", change[1].Key())
	assert.Equal(t, "authenticated:acct-1", w.Last().Key())
}

func TestWatcher_DebounceCollapsesBurst(t *testing.T) {
	ids := &switchableIdentity{id: model.Anonymous("dev-1")}
	rec := &recordingReconciler{}
	w := New(ids, WithDebounce(30*time.Millisecond), WithReconciler(rec))
	defer w.Close()
	w.Prime(context.Background())

	ids.set(model.Authenticated("acct-1"))
	for i := 0; i < 10; i++ {
		w.Notify()
	}

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	// Prime plus exactly one debounced pass.
	assert.Equal(t, int32(2), ids.calls.Load())
}

func TestWatcher_OnePassAtATime(t *testing.T) {
	ids := &switchableIdentity{id: model.Anonymous("dev-1")}
	rec := &recordingReconciler{gate: make(chan struct{})}
	w := New(ids, WithDebounce(time.Millisecond), WithReconciler(rec))
	w.Prime(context.Background())

	ids.set(model.Authenticated("acct-1"))
	w.Notify()
	require.Eventually(t, func() bool { return rec.active.Load() == 1 }, time.Second, time.Millisecond)

	// Signals during the pass queue one follow-up.
	ids.set(model.Anonymous("dev-1"))
	for i := 0; i < 5; i++ {
		w.Notify()
		time.Sleep(3 * time.Millisecond)
	}

	rec.gate <- struct{}{}
	require.Eventually(t, func() bool { return rec.active.Load() == 1 }, time.Second, time.Millisecond)
	rec.gate <- struct{}{}

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, time.Millisecond)
	close(rec.gate)
	w.Close()

	assert.False(t, rec.overlap.Load())
	assert.Equal(t, 2, w.Passes())
	assert.Equal(t, "anonymous:dev-1", w.Last().Key())
}

func TestWatcher_RunForwardsSourceSignals(t *testing.T) {
	ids := &switchableIdentity{id: model.Anonymous("dev-1")}
	rec := &recordingReconciler{}
	w := New(ids, WithDebounce(time.Millisecond), WithReconciler(rec))
	w.Prime(context.Background())

	bus := event.NewBus()
	w.Run(busSource{bus})
	require.Equal(t, 1, bus.Len())

	ids.set(model.Authenticated("acct-1"))
	bus.Publish()
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)

	w.Close()
	assert.Equal(t, 0, bus.Len())

	// Nothing fires after Close.
	ids.set(model.Anonymous("dev-2"))
	w.Notify()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestWatcher_ReconcilerErrorDoesNotStopOthers(t *testing.T) {
	ids := &switchableIdentity{id: model.Anonymous("dev-1")}
	rec := &recordingReconciler{}
	failing := ReconcilerFunc(func(context.Context, model.Identity, model.Identity) error {
		return assert.AnError
	})
	w := New(ids, WithDebounce(time.Millisecond), WithReconciler(failing), WithReconciler(rec))
	defer w.Close()
	w.Prime(context.Background())

	ids.set(model.Authenticated("acct-1"))
	w.Notify()
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
}

func TestWatcher_FailedReconcileRetriesOnNextSignal(t *testing.T) {
	ids := &switchableIdentity{id: model.Anonymous("dev-1")}
	var calls atomic.Int32
	flaky := ReconcilerFunc(func(_ context.Context, prev, next model.Identity) error {
		assert.Equal(t, "anonymous:dev-1", prev.Key())
		assert.Equal(t, "authenticated:acct-1", next.Key())
		if calls.Add(1) == 1 {
			return assert.AnError
		}
		return nil
	})
	w := New(ids, WithDebounce(time.Millisecond), WithReconciler(flaky))
	defer w.Close()
	w.Prime(context.Background())

	ids.set(model.Authenticated("acct-1"))
	w.Notify()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return w.Last().Key() == "anonymous:dev-1" }, time.Second, time.Millisecond)

	// Identity unchanged since the failure; the change is still applied.
	w.Notify()
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return w.Last().Key() == "authenticated:acct-1" }, time.Second, time.Millisecond)

	w.Notify()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWatcher_UnprimedFirstPassReconciles(t *testing.T) {
	ids := &switchableIdentity{id: model.Anonymous("dev-1")}
	rec := &recordingReconciler{}
	w := New(ids, WithDebounce(time.Millisecond), WithReconciler(rec))
	defer w.Close()

	w.Notify()
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
	rec.mu.Lock()
	assert.True(t, rec.changes[0][0].IsZero())
	rec.mu.Unlock()
}

func TestFileSignals_FiltersNames(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileSignals(dir, []string{"session.json"}, nil)
	require.NoError(t, err)
	defer fs.Close()

	ch, unsubscribe := fs.Events()
	defer unsubscribe()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))
	select {
	case <-ch:
		t.Fatal("unexpected signal for unwatched file")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.json"), []byte("{}"), 0o600))
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("expected signal for session file")
	}
}
