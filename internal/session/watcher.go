// Package session keeps in-memory state coherent when the acting identity
// changes underneath it, for example on sign-in, sign-out or a device id
// rotated by another process.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shattavibe/api/internal/model"
)

// DefaultDebounce collapses a burst of signals into one reconciliation pass.
const DefaultDebounce = 400 * time.Millisecond

// IdentitySource resolves the live identity.
type IdentitySource interface {
	Current(ctx context.Context) model.Identity
}

// Source emits a signal whenever the identity may have changed.
type Source interface {
	Events() (<-chan struct{}, func())
}

// Reconciler reacts to an identity change. prev is zero on the first change
// seen after Prime was skipped.
type Reconciler interface {
	Reconcile(ctx context.Context, prev, next model.Identity) error
}

type ReconcilerFunc func(ctx context.Context, prev, next model.Identity) error

func (f ReconcilerFunc) Reconcile(ctx context.Context, prev, next model.Identity) error {
	return f(ctx, prev, next)
}

type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithReconciler registers r. Reconcilers run in registration order.
func WithReconciler(r Reconciler) Option {
	return func(w *Watcher) {
		if r != nil {
			w.reconcilers = append(w.reconcilers, r)
		}
	}
}

// Watcher debounces identity signals and runs the reconcilers only when the
// identity key actually changed. At most one pass runs at a time; signals
// arriving during a pass queue a single follow-up pass.
type Watcher struct {
	identity    IdentitySource
	reconcilers []Reconciler
	debounce    time.Duration
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	timer   *time.Timer
	last    model.Identity
	primed  bool
	running bool
	pending bool
	closed  bool
	passes  int
	unsubs  []func()
}

func New(identity IdentitySource, opts ...Option) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		identity: identity,
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Prime records the current identity as the baseline without reconciling.
func (w *Watcher) Prime(ctx context.Context) model.Identity {
	id := w.identity.Current(ctx)
	w.mu.Lock()
	w.last = id
	w.primed = true
	w.mu.Unlock()
	return id
}

// Run subscribes to every source and forwards its signals to Notify until
// Close is called.
func (w *Watcher) Run(sources ...Source) {
	for _, src := range sources {
		if src == nil {
			continue
		}
		ch, unsubscribe := src.Events()

		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			unsubscribe()
			return
		}
		w.unsubs = append(w.unsubs, unsubscribe)
		w.wg.Add(1)
		w.mu.Unlock()

		go func() {
			defer w.wg.Done()
			for {
				select {
				case <-w.ctx.Done():
					return
				case _, ok := <-ch:
					if !ok {
						return
					}
					w.Notify()
				}
			}
		}()
	}
}

// Notify schedules a reconciliation pass after the debounce window. Every
// call restarts the window.
func (w *Watcher) Notify() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

// Passes returns how many identity changes were reconciled.
func (w *Watcher) Passes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.passes
}

// Last returns the identity of the most recent pass, or the primed baseline.
func (w *Watcher) Last() model.Identity {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Close stops the debounce timer, unsubscribes every source and waits for a
// running pass to return. It is safe to call more than once.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	unsubs := w.unsubs
	w.unsubs = nil
	w.mu.Unlock()

	w.cancel()
	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	w.wg.Wait()
}

func (w *Watcher) fire() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if w.running {
		w.pending = true
		w.mu.Unlock()
		return
	}
	w.running = true
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	for {
		w.pass()

		w.mu.Lock()
		if w.pending && !w.closed {
			w.pending = false
			w.mu.Unlock()
			continue
		}
		w.pending = false
		w.running = false
		w.mu.Unlock()
		return
	}
}

func (w *Watcher) pass() {
	next := w.identity.Current(w.ctx)

	w.mu.Lock()
	prev, primed := w.last, w.primed
	if primed && prev.Key() == next.Key() {
		w.mu.Unlock()
		return
	}
	w.last = next
	w.primed = true
	w.passes++
	w.mu.Unlock()

	w.logger.Info("identity changed",
		zap.String("from", prev.Key()),
		zap.String("to", next.Key()),
	)
	failed := false
	for _, r := range w.reconcilers {
		if err := r.Reconcile(w.ctx, prev, next); err != nil {
			failed = true
			w.logger.Warn("reconcile failed", zap.String("identity", next.Key()), zap.Error(err))
		}
	}
	if !failed {
		return
	}

	// Roll the baseline back so the next signal retries the same change.
	w.mu.Lock()
	if w.last.Key() == next.Key() {
		w.last = prev
		w.primed = primed
	}
	w.mu.Unlock()
}
