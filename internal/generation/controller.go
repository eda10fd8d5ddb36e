// Package generation is the client-facing surface of generation tracking.
// It drives the polling engine from submissions, keeps the remaining free
// generation count current and reacts to identity changes.
package generation

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/shattavibe/api/internal/apperr"
	"github.com/shattavibe/api/internal/drafts"
	"github.com/shattavibe/api/internal/event"
	"github.com/shattavibe/api/internal/model"
	"github.com/shattavibe/api/internal/poller"
	"github.com/shattavibe/api/internal/service"
)

// Submitter starts vendor jobs and records their completion.
type Submitter interface {
	Submit(ctx context.Context, params service.SubmitParams) (*service.Submission, error)
	MarkCompleted(ctx context.Context, owner model.Identity, taskID string) error
}

type QuotaSource interface {
	Remaining(ctx context.Context, id model.Identity) (model.Remaining, error)
}

// LibrarySource lists past jobs of an identity.
type LibrarySource interface {
	List(ctx context.Context, id model.Identity, limit int) ([]model.GenerationJob, error)
}

// DraftUpdater mirrors terminal outcomes into local drafts and drops them
// once the device signs in to an account.
type DraftUpdater interface {
	Update(taskID string, fn func(*drafts.Draft)) (drafts.Draft, error)
	Clear() error
}

// LibraryLimit caps the jobs kept for the library view.
const LibraryLimit = 50

// TrackView is a track as presented to the user.
type TrackView struct {
	model.Track
	Playable     bool `json:"playable"`
	Downloadable bool `json:"downloadable"`
}

// View is the state a UI renders.
type View struct {
	Status          model.EngineStatus `json:"status"`
	TaskID          string             `json:"taskId,omitempty"`
	ProgressMessage string             `json:"progressMessage"`
	Tracks          []TrackView        `json:"tracks"`
	Error           string             `json:"error"`
	Remaining       model.Remaining    `json:"remainingFreeGenerations"`
	RequiresSignIn  bool               `json:"requiresSignIn"`
}

type Option func(*Controller)

func WithLibrary(l LibrarySource) Option {
	return func(c *Controller) { c.library = l }
}

func WithDrafts(d DraftUpdater) Option {
	return func(c *Controller) { c.drafts = d }
}

// WithEngineOptions configures the polling engine the controller owns.
func WithEngineOptions(opts ...poller.Option) Option {
	return func(c *Controller) { c.engineOpts = append(c.engineOpts, opts...) }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// Controller owns one polling engine. It is safe for concurrent use.
type Controller struct {
	identity    service.IdentitySource
	submissions Submitter
	quota       QuotaSource
	library     LibrarySource
	drafts      DraftUpdater
	engine      *poller.Engine
	engineOpts  []poller.Option
	bus         *event.Bus
	logger      *zap.Logger

	mu             sync.Mutex
	remaining      model.Remaining
	jobs           []model.GenerationJob
	requiresSignIn bool
	finalized      string
}

func New(identity service.IdentitySource, submissions Submitter, source poller.JobSource, quota QuotaSource, opts ...Option) *Controller {
	c := &Controller{
		identity:    identity,
		submissions: submissions,
		quota:       quota,
		bus:         event.NewBus(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	engineOpts := append([]poller.Option{poller.WithLogger(c.logger)}, c.engineOpts...)
	engineOpts = append(engineOpts, poller.OnChange(c.onEngineChange))
	c.engine = poller.New(source, engineOpts...)
	return c
}

// Engine exposes the underlying polling engine.
func (c *Controller) Engine() *poller.Engine {
	return c.engine
}

// Updates signals every change of the view.
func (c *Controller) Updates() (<-chan struct{}, func()) {
	return c.bus.Subscribe()
}

// Load computes the initial remaining count and library for the current identity.
func (c *Controller) Load(ctx context.Context) {
	id := c.identity.Current(ctx)
	c.refreshQuota(ctx, id)
	c.refreshLibrary(ctx, id)
	c.bus.Publish()
}

// Submit starts a generation and begins polling for it. It returns the
// vendor task id. Quota rejections leave the engine in limit_reached; every
// other submission failure leaves it in error.
func (c *Controller) Submit(ctx context.Context, params service.SubmitParams) (string, error) {
	if err := c.engine.Begin(); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.requiresSignIn = false
	c.mu.Unlock()

	sub, err := c.submissions.Submit(ctx, params)
	if err != nil {
		if apperr.IsQuotaExceeded(err) {
			c.engine.LimitReached()
			c.refreshQuota(ctx, c.identity.Current(ctx))
			c.bus.Publish()
		} else {
			c.engine.Fail(err)
		}
		return "", err
	}

	if err := c.engine.Start(sub.TaskID, sub.Owner); err != nil {
		// Reset while the vendor call ran; the job exists but nobody watches it.
		c.logger.Info("polling not started", zap.String("task_id", sub.TaskID), zap.Error(err))
	}
	c.refreshQuota(ctx, sub.Owner)
	c.bus.Publish()
	return sub.TaskID, nil
}

// State returns the current view.
func (c *Controller) State() View {
	s := c.engine.Snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		Status:          s.Status,
		TaskID:          s.TaskID,
		ProgressMessage: s.ProgressMessage(),
		Error:           s.ErrorMessage(),
		Remaining:       c.remaining,
		RequiresSignIn:  c.requiresSignIn,
	}
	if len(s.Tracks) > 0 {
		v.Tracks = make([]TrackView, 0, len(s.Tracks))
		for _, t := range s.Tracks {
			v.Tracks = append(v.Tracks, TrackView{Track: t, Playable: t.IsPlayable(), Downloadable: t.IsDownloadable()})
		}
	}
	return v
}

// Library returns the last loaded list of past jobs.
func (c *Controller) Library() []model.GenerationJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.GenerationJob(nil), c.jobs...)
}

// Refresh re-reads a completed job for final-quality audio.
func (c *Controller) Refresh(ctx context.Context) (View, error) {
	_, err := c.engine.Refresh(ctx)
	return c.State(), err
}

// Reset returns to idle. Stored jobs are untouched.
func (c *Controller) Reset() {
	c.engine.Reset()
	c.bus.Publish()
}

// Close stops polling for good.
func (c *Controller) Close() {
	c.engine.Close()
}

// Reconcile brings the controller in line with a changed identity: the
// quota and library are recomputed for the new identity, and a job still
// being tracked for an account that just signed out is dropped. Signing in
// from an anonymous device clears its local drafts; the anonymous records
// stay in the Record Store.
func (c *Controller) Reconcile(ctx context.Context, prev, next model.Identity) error {
	s := c.engine.Snapshot()
	signedOut := prev.IsAuthenticated() && prev.Key() != next.Key()
	if signedOut && !s.Status.IsTerminal() && s.Status != model.EngineIdle && s.Owner.Key() == prev.Key() {
		c.logger.Info("owner signed out, dropping tracked job", zap.String("task_id", s.TaskID))
		c.engine.Reset()
	}

	signedIn := !prev.IsZero() && !prev.IsAuthenticated() && next.IsAuthenticated()
	if signedIn && c.drafts != nil {
		if err := c.drafts.Clear(); err != nil {
			c.logger.Warn("failed to clear drafts after sign-in", zap.String("identity", next.Key()), zap.Error(err))
		}
	}

	c.mu.Lock()
	c.requiresSignIn = signedOut && !next.IsAuthenticated()
	c.mu.Unlock()

	c.refreshQuota(ctx, next)
	c.refreshLibrary(ctx, next)
	c.bus.Publish()
	return nil
}

func (c *Controller) onEngineChange(s poller.State) {
	defer c.bus.Publish()

	switch s.Status {
	case model.EngineCompleted:
		c.mu.Lock()
		first := c.finalized != s.TaskID
		c.finalized = s.TaskID
		c.mu.Unlock()

		ctx := context.Background()
		if first {
			if err := c.submissions.MarkCompleted(ctx, s.Owner, s.TaskID); err != nil {
				c.logger.Warn("failed to record completion", zap.String("task_id", s.TaskID), zap.Error(err))
			}
			c.refreshQuota(ctx, c.identity.Current(ctx))
		}
		c.updateDraft(s.TaskID, func(d *drafts.Draft) {
			d.Status = model.JobStatusCompleted
			d.Tracks = s.Tracks
		})
	case model.EngineError:
		var failed *apperr.VendorJobFailedError
		var timeout *poller.TimeoutError
		if errors.As(s.Err, &failed) || errors.As(s.Err, &timeout) {
			msg := s.ErrorMessage()
			c.updateDraft(s.TaskID, func(d *drafts.Draft) {
				d.Status = model.JobStatusFailed
				d.Error = msg
			})
		}
	}
}

func (c *Controller) updateDraft(taskID string, fn func(*drafts.Draft)) {
	if c.drafts == nil || taskID == "" {
		return
	}
	if _, err := c.drafts.Update(taskID, fn); err != nil {
		c.logger.Debug("draft not updated", zap.String("task_id", taskID), zap.Error(err))
	}
}

// refreshQuota recounts the remaining free generations. On a failed count
// an anonymous identity keeps whatever estimate the quota source returned,
// zero unless a local draft count was available.
func (c *Controller) refreshQuota(ctx context.Context, id model.Identity) {
	remaining, err := c.quota.Remaining(ctx, id)
	if err != nil {
		c.logger.Warn("quota recount failed", zap.String("owner", id.Key()), zap.Error(err))
		if id.IsAuthenticated() {
			remaining = model.Remaining{Unlimited: true}
		}
	}
	c.mu.Lock()
	c.remaining = remaining
	c.mu.Unlock()
}

func (c *Controller) refreshLibrary(ctx context.Context, id model.Identity) {
	if c.library == nil {
		return
	}
	jobs, err := c.library.List(ctx, id, LibraryLimit)
	if err != nil {
		c.logger.Warn("library refresh failed", zap.String("owner", id.Key()), zap.Error(err))
		return
	}
	c.mu.Lock()
	c.jobs = jobs
	c.mu.Unlock()
}
