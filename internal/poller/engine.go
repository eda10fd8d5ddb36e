// Package poller tracks one generation job from submission to playable
// audio. The engine is an explicit state machine:
//
//	idle -> generating -> polling -> completed | error | limit_reached
//
// It owns a single timer handle. Completion is decided by track
// playability, not by the job's status field: stream-quality audio is
// usable well before the vendor finalizes the job.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shattavibe/api/internal/apperr"
	"github.com/shattavibe/api/internal/clock"
	"github.com/shattavibe/api/internal/model"
)

const (
	DefaultInterval    = 3 * time.Second
	DefaultMaxDuration = 15 * time.Minute
)

var (
	// ErrBusy is returned by Begin while a job is being submitted or polled.
	ErrBusy = errors.New("a generation is already in progress")
	// ErrClosed is returned once the engine has been torn down.
	ErrClosed = errors.New("polling engine closed")
)

// TimeoutError ends polling of a job that produced no playable track in time.
type TimeoutError struct {
	TaskID string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("generation timed out after %s", e.After.Round(time.Second))
}

// JobSource reads a job with its tracks from one Record Store partition.
type JobSource interface {
	Find(ctx context.Context, kind model.IdentityKind, taskID string) (*model.GenerationJob, error)
}

// State is a snapshot of the engine.
type State struct {
	Status    model.EngineStatus
	TaskID    string
	Owner     model.Identity
	JobStatus model.JobStatus
	Tracks    []model.Track
	Err       error
	StartedAt time.Time
	Version   uint64
}

// ErrorMessage returns the user-facing error text, or "".
func (s State) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// ProgressMessage describes the state for display.
func (s State) ProgressMessage() string {
	switch s.Status {
	case model.EngineGenerating:
		return "Sending your idea to the composer..."
	case model.EnginePolling:
		if s.JobStatus == model.JobStatusProcessing {
			return "Composing your song..."
		}
		return "Waiting for the composer to start..."
	case model.EngineCompleted:
		return "Your song is ready"
	case model.EngineError:
		return s.ErrorMessage()
	case model.EngineLimitReached:
		return "Free generation limit reached. Sign in to keep creating."
	}
	return ""
}

type pollTimer struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (t *pollTimer) stop() {
	t.once.Do(t.cancel)
}

// Engine polls the Record Store for one job at a time. All methods are
// safe for concurrent use. OnChange callbacks run outside the engine lock
// but must not call Close.
type Engine struct {
	source      JobSource
	interval    time.Duration
	maxDuration time.Duration
	clock       clock.Clock
	logger      *zap.Logger
	onChange    func(State)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	state    State
	timer    *pollTimer
	inFlight bool
	epoch    uint64
	closed   bool

	notifyMu     sync.Mutex
	lastNotified uint64
}

type Option func(*Engine)

func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithMaxDuration bounds how long a job is polled before it is reported
// as timed out.
func WithMaxDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.maxDuration = d
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// OnChange registers fn to receive every new state.
func OnChange(fn func(State)) Option {
	return func(e *Engine) { e.onChange = fn }
}

func New(source JobSource, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		source:      source,
		interval:    DefaultInterval,
		maxDuration: DefaultMaxDuration,
		clock:       clock.Real(),
		logger:      zap.NewNop(),
		ctx:         ctx,
		cancel:      cancel,
		state:       State{Status: model.EngineIdle},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyStateLocked()
}

// TimerActive reports whether a polling timer is live.
func (e *Engine) TimerActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timer != nil
}

// Begin moves idle or terminal -> generating for a new submission.
func (e *Engine) Begin() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.state.Status == model.EngineGenerating || e.state.Status == model.EnginePolling {
		e.mu.Unlock()
		return ErrBusy
	}
	e.advanceEpochLocked()
	e.state = State{Status: model.EngineGenerating}
	s := e.bumpLocked()
	e.mu.Unlock()

	e.notify(s)
	return nil
}

// Start moves generating -> polling once the job row exists, and starts
// the timer. The first check runs immediately.
func (e *Engine) Start(taskID string, owner model.Identity) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.state.Status != model.EngineGenerating {
		status := e.state.Status
		e.mu.Unlock()
		return fmt.Errorf("cannot start polling from %s", status)
	}

	e.state.Status = model.EnginePolling
	e.state.TaskID = taskID
	e.state.Owner = owner
	e.state.JobStatus = model.JobStatusPending
	e.state.StartedAt = e.clock.Now()
	s := e.bumpLocked()

	ctx, cancel := context.WithCancel(e.ctx)
	t := &pollTimer{cancel: cancel}
	e.timer = t
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Debug("polling started", zap.String("task_id", taskID), zap.String("owner", owner.Key()))
	e.notify(s)

	go e.run(ctx, t)
	return nil
}

func (e *Engine) run(ctx context.Context, t *pollTimer) {
	defer e.wg.Done()
	defer t.stop()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick performs one check of the current job. It is a no-op unless the
// engine is polling, and skipped while another check is in flight.
func (e *Engine) Tick(ctx context.Context) State {
	e.mu.Lock()
	if e.state.Status != model.EnginePolling || e.inFlight {
		s := e.copyStateLocked()
		e.mu.Unlock()
		return s
	}
	e.inFlight = true
	epoch := e.epoch
	taskID := e.state.TaskID
	owner := e.state.Owner
	e.mu.Unlock()

	job, err := e.find(ctx, owner, taskID)

	e.mu.Lock()
	if epoch != e.epoch || e.state.Status != model.EnginePolling {
		// Reset or a new job happened while the query ran.
		s := e.copyStateLocked()
		e.mu.Unlock()
		return s
	}
	e.inFlight = false

	changed := false
	switch {
	case err != nil && !errors.Is(err, apperr.ErrJobNotFound):
		if ctx.Err() == nil {
			e.logger.Warn("poll failed, retrying next tick", zap.String("task_id", taskID), zap.Error(err))
		}
	case job != nil && model.HasPlayable(job.Tracks):
		e.state.Status = model.EngineCompleted
		e.state.JobStatus = job.Status
		e.state.Tracks = model.PlayableTracks(job.Tracks)
		changed = true
	case job != nil && job.Status == model.JobStatusFailed:
		e.state.Status = model.EngineError
		e.state.JobStatus = job.Status
		e.state.Err = &apperr.VendorJobFailedError{TaskID: taskID, Message: job.ErrorMessage}
		changed = true
	case job != nil && job.Status != e.state.JobStatus:
		e.state.JobStatus = job.Status
		changed = true
	}

	if e.state.Status == model.EnginePolling {
		if elapsed := e.clock.Now().Sub(e.state.StartedAt); elapsed > e.maxDuration {
			e.state.Status = model.EngineError
			e.state.Err = &TimeoutError{TaskID: taskID, After: e.maxDuration}
			changed = true
		}
	}

	if e.state.Status.IsTerminal() {
		e.stopTimerLocked()
	}

	var s State
	if changed {
		s = e.bumpLocked()
	} else {
		s = e.copyStateLocked()
	}
	e.mu.Unlock()

	if changed {
		e.logger.Debug("poll state changed",
			zap.String("task_id", taskID),
			zap.String("status", string(s.Status)),
			zap.String("job_status", string(s.JobStatus)),
			zap.Int("tracks", len(s.Tracks)))
		e.notify(s)
	}
	return s
}

// find reads from the owner's partition first and falls back to the other
// one once, for jobs recorded before a sign-in or sign-out.
func (e *Engine) find(ctx context.Context, owner model.Identity, taskID string) (*model.GenerationJob, error) {
	job, err := e.source.Find(ctx, owner.Kind, taskID)
	if !errors.Is(err, apperr.ErrJobNotFound) {
		return job, err
	}

	other := model.IdentityAnonymous
	if owner.Kind == model.IdentityAnonymous {
		other = model.IdentityAuthenticated
	}
	return e.source.Find(ctx, other, taskID)
}

// Fail moves a submission that did not produce a job into error.
func (e *Engine) Fail(err error) {
	e.terminate(model.EngineError, err)
}

// LimitReached moves a submission rejected for quota into limit_reached.
func (e *Engine) LimitReached() {
	e.terminate(model.EngineLimitReached, apperr.ErrQuotaExceeded)
}

func (e *Engine) terminate(status model.EngineStatus, err error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.advanceEpochLocked()
	e.state.Status = status
	e.state.Err = err
	e.state.Tracks = nil
	s := e.bumpLocked()
	e.mu.Unlock()

	e.notify(s)
}

// Refresh re-reads a completed job once so callers can pick up final-quality
// URLs that arrived after stream-quality playback began. It never restarts
// polling.
func (e *Engine) Refresh(ctx context.Context) (State, error) {
	e.mu.Lock()
	if e.state.Status != model.EngineCompleted {
		s := e.copyStateLocked()
		e.mu.Unlock()
		return s, nil
	}
	epoch := e.epoch
	taskID := e.state.TaskID
	owner := e.state.Owner
	e.mu.Unlock()

	job, err := e.find(ctx, owner, taskID)
	if err != nil {
		return e.Snapshot(), err
	}

	e.mu.Lock()
	if epoch != e.epoch || e.state.Status != model.EngineCompleted {
		s := e.copyStateLocked()
		e.mu.Unlock()
		return s, nil
	}
	e.state.JobStatus = job.Status
	if playable := model.PlayableTracks(job.Tracks); len(playable) > 0 {
		e.state.Tracks = playable
	}
	s := e.bumpLocked()
	e.mu.Unlock()

	e.notify(s)
	return s, nil
}

// Reset returns to idle from any state, cancelling the timer. Stored rows
// are left alone.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.advanceEpochLocked()
	e.state = State{Status: model.EngineIdle}
	s := e.bumpLocked()
	e.mu.Unlock()

	e.notify(s)
}

// Close resets the engine, stops its goroutines and rejects further use.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.advanceEpochLocked()
	e.state = State{Status: model.EngineIdle, Version: e.state.Version}
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

// advanceEpochLocked invalidates the current job: its timer stops and any
// query still in flight is discarded when it returns.
func (e *Engine) advanceEpochLocked() {
	e.stopTimerLocked()
	e.epoch++
	e.inFlight = false
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.stop()
		e.timer = nil
	}
}

func (e *Engine) bumpLocked() State {
	e.state.Version++
	return e.copyStateLocked()
}

func (e *Engine) copyStateLocked() State {
	s := e.state
	if s.Tracks != nil {
		s.Tracks = append([]model.Track(nil), s.Tracks...)
	}
	return s
}

func (e *Engine) notify(s State) {
	if e.onChange == nil {
		return
	}
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	if s.Version <= e.lastNotified {
		return
	}
	e.lastNotified = s.Version
	e.onChange(s)
}
