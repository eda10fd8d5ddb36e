package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/shattavibe/api/internal/apperr"
	"github.com/shattavibe/api/internal/client"
	"github.com/shattavibe/api/internal/drafts"
	"github.com/shattavibe/api/internal/model"
)

// DefaultPromptMaxLength is the vendor's simple-mode prompt limit in characters.
const DefaultPromptMaxLength = 500

// IdentitySource resolves the live identity.
type IdentitySource interface {
	Current(ctx context.Context) model.Identity
}

// DraftRecorder mirrors submissions into local storage.
type DraftRecorder interface {
	Save(d drafts.Draft) (drafts.Draft, error)
}

// SubmitParams is one user generation request.
type SubmitParams struct {
	Prompt       string            `json:"prompt" validate:"required"`
	Instrumental bool              `json:"instrumental"`
	Model        model.SunoModel   `json:"model,omitempty" validate:"omitempty,oneof=V3_5 V4 V4_5 V4_5PLUS V5"`
	NegativeTags string            `json:"negativeTags,omitempty" validate:"max=200"`
	VocalGender  model.VocalGender `json:"vocalGender,omitempty" validate:"omitempty,oneof=m f"`
}

// Submission is the result of a successful submit.
type Submission struct {
	TaskID string
	Owner  model.Identity
	Job    *model.GenerationJob
}

// SubmissionService starts vendor jobs and records them in the partition of
// the submitting identity. It does not wait for results.
type SubmissionService struct {
	identity  IdentitySource
	generator client.MusicGenerator
	records   PartitionSource
	quota     *QuotaTracker
	drafts    DraftRecorder
	validate  *validator.Validate
	model     model.SunoModel
	maxPrompt int
	logger    *zap.Logger
}

// SubmissionOption configures a SubmissionService.
type SubmissionOption func(*SubmissionService)

// WithDrafts mirrors every accepted submission into the local draft store.
func WithDrafts(d DraftRecorder) SubmissionOption {
	return func(s *SubmissionService) { s.drafts = d }
}

// WithDefaultModel overrides the engine version used when none is requested.
func WithDefaultModel(m model.SunoModel) SubmissionOption {
	return func(s *SubmissionService) {
		if m.IsValid() {
			s.model = m
		}
	}
}

// WithPromptMaxLength sets the prompt length limit in characters.
func WithPromptMaxLength(n int) SubmissionOption {
	return func(s *SubmissionService) {
		if n > 0 {
			s.maxPrompt = n
		}
	}
}

func WithSubmissionLogger(l *zap.Logger) SubmissionOption {
	return func(s *SubmissionService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewSubmissionService(identity IdentitySource, generator client.MusicGenerator, records PartitionSource, quota *QuotaTracker, opts ...SubmissionOption) *SubmissionService {
	s := &SubmissionService{
		identity:  identity,
		generator: generator,
		records:   records,
		quota:     quota,
		validate:  validator.New(),
		model:     model.DefaultModel,
		maxPrompt: DefaultPromptMaxLength,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit starts one generation for the current identity.
//
// The quota is checked right before the vendor call, never from a cached
// value, so two quick submissions from one device cannot both pass. Every
// call creates a new job; submissions are not deduplicated.
func (s *SubmissionService) Submit(ctx context.Context, params SubmitParams) (*Submission, error) {
	params.Prompt = strings.TrimSpace(params.Prompt)
	if err := s.validateParams(params); err != nil {
		return nil, err
	}

	owner := s.identity.Current(ctx)
	log := s.logger.With(zap.String("owner", owner.Key()))

	if !owner.IsAuthenticated() {
		reached, err := s.quota.HasReachedLimit(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("failed to check quota: %w", err)
		}
		if reached {
			log.Info("submission rejected, free limit reached")
			return nil, apperr.ErrQuotaExceeded
		}
	}

	engine := params.Model
	if engine == "" {
		engine = s.model
	}

	taskID, err := s.generator.GenerateMusic(ctx, &client.GenerateMusicRequest{
		CustomMode:   false,
		Instrumental: params.Instrumental,
		Model:        engine,
		Prompt:       params.Prompt,
		NegativeTags: params.NegativeTags,
		VocalGender:  params.VocalGender,
	})
	if err != nil {
		log.Warn("vendor generate call failed", zap.Error(err))
		var vendorErr *apperr.VendorRequestError
		if errors.As(err, &vendorErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &apperr.VendorRequestError{Message: err.Error()}
	}
	log = log.With(zap.String("task_id", taskID))

	job := &model.GenerationJob{
		TaskID:       taskID,
		Owner:        owner,
		Prompt:       params.Prompt,
		Model:        engine,
		Instrumental: params.Instrumental,
		NegativeTags: params.NegativeTags,
		VocalGender:  params.VocalGender,
		Status:       model.JobStatusPending,
	}

	partition := s.records.For(owner)
	if err := partition.Save(ctx, job); err != nil {
		// The vendor job runs anyway, but its callbacks will find no row.
		log.Error("failed to record submitted job", zap.Error(err))
		return nil, err
	}

	if err := partition.UpdateStatus(ctx, taskID, model.JobStatusProcessing, ""); err != nil {
		if !errors.Is(err, apperr.ErrInvalidTransition) {
			log.Warn("failed to mark job processing", zap.Error(err))
		}
	} else {
		job.Status = model.JobStatusProcessing
	}

	if s.drafts != nil {
		if _, err := s.drafts.Save(drafts.Draft{
			TaskID:       taskID,
			OwnerKey:     owner.Key(),
			Prompt:       job.Prompt,
			Model:        job.Model,
			Instrumental: job.Instrumental,
			Status:       job.Status,
			CreatedAt:    job.CreatedAt,
		}); err != nil {
			log.Warn("failed to save local draft", zap.Error(err))
		}
	}

	log.Info("generation submitted", zap.String("model", string(engine)), zap.Bool("instrumental", params.Instrumental))
	return &Submission{TaskID: taskID, Owner: owner, Job: job}, nil
}

func (s *SubmissionService) validateParams(params SubmitParams) error {
	if err := s.validate.Struct(&params); err != nil {
		return fmt.Errorf("%w: %s", apperr.ErrInvalidRequest, describeValidation(err))
	}
	if err := s.validate.Var(params.Prompt, fmt.Sprintf("max=%d", s.maxPrompt)); err != nil {
		return fmt.Errorf("%w: prompt exceeds %d characters", apperr.ErrInvalidRequest, s.maxPrompt)
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// MarkCompleted records that a job produced playable audio. The submitter
// remains the writer of status transitions; a job the callback receiver
// already finalized is left as is.
func (s *SubmissionService) MarkCompleted(ctx context.Context, owner model.Identity, taskID string) error {
	err := s.records.For(owner).UpdateStatus(ctx, taskID, model.JobStatusCompleted, "")
	if err != nil && !errors.Is(err, apperr.ErrInvalidTransition) {
		return err
	}
	return nil
}
