package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/shattavibe/api/internal/apperr"
	"github.com/shattavibe/api/internal/drafts"
	"github.com/shattavibe/api/internal/model"
)

// DraftLister reads local drafts.
type DraftLister interface {
	List(ownerKey string) ([]drafts.Draft, error)
}

// LibraryService lists past generations of an identity.
type LibraryService struct {
	records PartitionSource
	drafts  DraftLister
	logger  *zap.Logger
}

// NewLibraryService creates a LibraryService. drafts may be nil on the server.
func NewLibraryService(records PartitionSource, drafts DraftLister, logger *zap.Logger) *LibraryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LibraryService{
		records: records,
		drafts:  drafts,
		logger:  logger,
	}
}

// List returns the identity's jobs with their tracks, newest first. When the
// Record Store fails, anonymous identities fall back to local drafts.
func (s *LibraryService) List(ctx context.Context, id model.Identity, limit int) ([]model.GenerationJob, error) {
	jobs, err := s.records.For(id).QueryByOwner(ctx, id, limit)
	if err == nil {
		return jobs, nil
	}
	if id.IsAuthenticated() || s.drafts == nil || !errors.Is(err, apperr.ErrPersistence) {
		return nil, err
	}

	s.logger.Warn("record store unavailable, listing local drafts", zap.String("owner", id.Key()), zap.Error(err))
	local, derr := s.drafts.List(id.Key())
	if derr != nil {
		return nil, errors.Join(err, derr)
	}
	if limit > 0 && len(local) > limit {
		local = local[:limit]
	}
	out := make([]model.GenerationJob, len(local))
	for i, d := range local {
		out[i] = d.ToJob(id)
	}
	return out, nil
}

// Get returns one job of the identity. Jobs of other owners are reported
// as not found.
func (s *LibraryService) Get(ctx context.Context, id model.Identity, taskID string) (*model.GenerationJob, error) {
	job, err := s.records.For(id).Find(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if job.Owner.Key() != id.Key() {
		return nil, apperr.ErrJobNotFound
	}
	return job, nil
}
