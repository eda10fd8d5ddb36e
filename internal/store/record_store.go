package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/shattavibe/api/internal/apperr"
	"github.com/shattavibe/api/internal/model"
)

// RecordStore is the shared relational store of jobs and tracks.
type RecordStore struct {
	authenticated *partition
	anonymous     *partition
}

func NewRecordStore(db *gorm.DB) *RecordStore {
	return &RecordStore{
		authenticated: &partition{
			db:     db,
			kind:   model.IdentityAuthenticated,
			jobs:   tableGenerations,
			tracks: tableTracks,
		},
		anonymous: &partition{
			db:     db,
			kind:   model.IdentityAnonymous,
			jobs:   tableAnonymousGenerations,
			tracks: tableAnonymousTracks,
		},
	}
}

// For returns the partition owning rows of the given identity.
func (s *RecordStore) For(id model.Identity) Partition {
	return s.partition(id.Kind)
}

// ForKind returns the partition of the given identity kind.
func (s *RecordStore) ForKind(kind model.IdentityKind) Partition {
	return s.partition(kind)
}

func (s *RecordStore) partition(kind model.IdentityKind) *partition {
	if kind == model.IdentityAuthenticated {
		return s.authenticated
	}
	return s.anonymous
}

// Find reads a job from the partition of the given kind.
func (s *RecordStore) Find(ctx context.Context, kind model.IdentityKind, taskID string) (*model.GenerationJob, error) {
	return s.partition(kind).Find(ctx, taskID)
}

// Locate finds the partition holding taskID, authenticated first. It is
// used by the callback receiver, which does not know the owner.
func (s *RecordStore) Locate(ctx context.Context, taskID string) (Partition, *model.GenerationJob, error) {
	for _, p := range []*partition{s.authenticated, s.anonymous} {
		job, err := p.Find(ctx, taskID)
		if err == nil {
			return p, job, nil
		}
		if !errors.Is(err, apperr.ErrJobNotFound) {
			return nil, nil, err
		}
	}
	return nil, nil, apperr.ErrJobNotFound
}

// ExpiredJob identifies a job failed by ExpireStale.
type ExpiredJob struct {
	TaskID string
	Kind   model.IdentityKind
}

// ExpireStale fails every unfinished job created before cutoff that still
// has no playable track. Jobs that moved on concurrently are skipped.
func (s *RecordStore) ExpireStale(ctx context.Context, cutoff time.Time, message string) ([]ExpiredJob, error) {
	var expired []ExpiredJob
	for _, p := range []*partition{s.authenticated, s.anonymous} {
		ids, err := p.staleTaskIDs(ctx, cutoff)
		if err != nil {
			return expired, err
		}
		for _, id := range ids {
			err := p.UpdateStatus(ctx, id, model.JobStatusFailed, message)
			switch {
			case err == nil:
				expired = append(expired, ExpiredJob{TaskID: id, Kind: p.kind})
			case errors.Is(err, apperr.ErrInvalidTransition), errors.Is(err, apperr.ErrJobNotFound):
			default:
				return expired, err
			}
		}
	}
	return expired, nil
}

// SetArchiveURL records where a track's final audio was archived.
func (s *RecordStore) SetArchiveURL(ctx context.Context, taskID, vendorID, url string) error {
	p, _, err := s.Locate(ctx, taskID)
	if err != nil {
		return err
	}
	return p.(*partition).setArchiveURL(ctx, taskID, vendorID, url)
}
