package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shattavibe/api/internal/apperr"
	"github.com/shattavibe/api/internal/model"
)

// Partition is the repository over one half of the Record Store. The
// authenticated and anonymous halves are structurally identical but never
// share rows.
type Partition interface {
	Kind() model.IdentityKind
	Save(ctx context.Context, job *model.GenerationJob) error
	UpdateStatus(ctx context.Context, taskID string, status model.JobStatus, message string) error
	UpsertTracks(ctx context.Context, taskID string, tracks []model.Track) error
	Find(ctx context.Context, taskID string) (*model.GenerationJob, error)
	QueryByOwner(ctx context.Context, owner model.Identity, limit int) ([]model.GenerationJob, error)
	CountByStatus(ctx context.Context, owner model.Identity, status model.JobStatus) (int64, error)
}

type partition struct {
	db     *gorm.DB
	kind   model.IdentityKind
	jobs   string
	tracks string
}

func (p *partition) Kind() model.IdentityKind {
	return p.kind
}

func (p *partition) checkOwner(owner model.Identity) error {
	if owner.Kind != p.kind {
		return fmt.Errorf("%w: %s identity on %s partition", apperr.ErrPartitionMismatch, owner.Kind, p.kind)
	}
	if owner.OwnerID() == "" {
		return fmt.Errorf("%w: empty owner id", apperr.ErrPartitionMismatch)
	}
	return nil
}

func (p *partition) Save(ctx context.Context, job *model.GenerationJob) error {
	if err := p.checkOwner(job.Owner); err != nil {
		return err
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}

	row := toGenerationRow(job)
	if err := p.db.WithContext(ctx).Table(p.jobs).Create(&row).Error; err != nil {
		return apperr.Persistence("save job", err)
	}
	job.CreatedAt = row.CreatedAt
	job.UpdatedAt = row.UpdatedAt
	return nil
}

// UpdateStatus moves a job forward. Re-applying the current status is a
// no-op; any attempt to move backwards or out of a terminal status fails
// with ErrInvalidTransition and leaves the row untouched.
func (p *partition) UpdateStatus(ctx context.Context, taskID string, status model.JobStatus, message string) error {
	preds := status.Predecessors()
	if len(preds) > 0 {
		updates := map[string]interface{}{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		}
		if status == model.JobStatusFailed {
			updates["error_message"] = message
		}

		res := p.db.WithContext(ctx).Table(p.jobs).
			Where("task_id = ? AND status IN ?", taskID, statusStrings(preds)).
			Updates(updates)
		if res.Error != nil {
			return apperr.Persistence("update job status", res.Error)
		}
		if res.RowsAffected > 0 {
			return nil
		}
	}

	current, err := p.currentStatus(ctx, taskID)
	if err != nil {
		return err
	}
	if current == status {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, current, status)
}

func (p *partition) currentStatus(ctx context.Context, taskID string) (model.JobStatus, error) {
	var row generationRow
	err := p.db.WithContext(ctx).Table(p.jobs).Select("status").Where("task_id = ?", taskID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apperr.ErrJobNotFound
		}
		return "", apperr.Persistence("read job status", err)
	}
	return model.JobStatus(row.Status), nil
}

// UpsertTracks inserts or updates tracks keyed by (task_id, vendor_id). A
// non-empty stored value is never replaced by an empty one, so a late or
// duplicate delivery cannot make a playable track unplayable.
func (p *partition) UpsertTracks(ctx context.Context, taskID string, tracks []model.Track) error {
	if len(tracks) == 0 {
		return nil
	}

	// One row per vendor id: a batch may not touch the same conflict key twice.
	rows := make([]trackRow, 0, len(tracks))
	seen := make(map[string]int, len(tracks))
	for _, t := range tracks {
		if t.ID == "" {
			continue
		}
		if i, ok := seen[t.ID]; ok {
			rows[i] = toTrackRow(taskID, t)
			continue
		}
		seen[t.ID] = len(rows)
		rows = append(rows, toTrackRow(taskID, t))
	}
	if len(rows) == 0 {
		return nil
	}

	err := p.db.WithContext(ctx).Table(p.tracks).
		Clauses(p.trackConflict()).
		Create(&rows).Error
	if err != nil {
		return apperr.Persistence("upsert tracks", err)
	}
	return nil
}

func (p *partition) trackConflict() clause.OnConflict {
	keep := func(col string) clause.Assignment {
		return clause.Assignment{
			Column: clause.Column{Name: col},
			Value: gorm.Expr(fmt.Sprintf(
				"CASE WHEN excluded.%[1]s <> '' THEN excluded.%[1]s ELSE %[2]s.%[1]s END", col, p.tracks)),
		}
	}

	return clause.OnConflict{
		Columns: []clause.Column{{Name: "task_id"}, {Name: "vendor_id"}},
		DoUpdates: clause.Set{
			keep("title"),
			keep("tags"),
			keep("prompt"),
			keep("model_name"),
			keep("audio_url"),
			keep("stream_audio_url"),
			keep("image_url"),
			keep("source_audio_url"),
			keep("source_stream_audio_url"),
			keep("source_image_url"),
			{
				Column: clause.Column{Name: "duration"},
				Value: gorm.Expr(fmt.Sprintf(
					"CASE WHEN excluded.duration > 0 THEN excluded.duration ELSE %s.duration END", p.tracks)),
			},
			{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("excluded.updated_at")},
		},
	}
}

func (p *partition) Find(ctx context.Context, taskID string) (*model.GenerationJob, error) {
	var row generationRow
	err := p.db.WithContext(ctx).Table(p.jobs).Where("task_id = ?", taskID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrJobNotFound
		}
		return nil, apperr.Persistence("find job", err)
	}

	job := row.toModel(p.kind)
	tracks, err := p.tracksFor(ctx, []string{taskID})
	if err != nil {
		return nil, err
	}
	job.Tracks = tracks[taskID]
	return &job, nil
}

func (p *partition) QueryByOwner(ctx context.Context, owner model.Identity, limit int) ([]model.GenerationJob, error) {
	if err := p.checkOwner(owner); err != nil {
		return nil, err
	}

	stmt := p.db.WithContext(ctx).Table(p.jobs).
		Where("owner_id = ?", owner.OwnerID()).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}

	var rows []generationRow
	if err := stmt.Find(&rows).Error; err != nil {
		return nil, apperr.Persistence("query jobs by owner", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.TaskID
	}
	tracks, err := p.tracksFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	jobs := make([]model.GenerationJob, len(rows))
	for i, r := range rows {
		jobs[i] = r.toModel(p.kind)
		jobs[i].Tracks = tracks[r.TaskID]
	}
	return jobs, nil
}

func (p *partition) CountByStatus(ctx context.Context, owner model.Identity, status model.JobStatus) (int64, error) {
	if err := p.checkOwner(owner); err != nil {
		return 0, err
	}

	var n int64
	err := p.db.WithContext(ctx).Table(p.jobs).
		Where("owner_id = ? AND status = ?", owner.OwnerID(), string(status)).
		Count(&n).Error
	if err != nil {
		return 0, apperr.Persistence("count jobs", err)
	}
	return n, nil
}

func (p *partition) tracksFor(ctx context.Context, taskIDs []string) (map[string][]model.Track, error) {
	var rows []trackRow
	err := p.db.WithContext(ctx).Table(p.tracks).
		Where("task_id IN ?", taskIDs).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Persistence("load tracks", err)
	}

	out := make(map[string][]model.Track, len(taskIDs))
	for _, r := range rows {
		out[r.TaskID] = append(out[r.TaskID], r.toModel())
	}
	return out, nil
}

func (p *partition) setArchiveURL(ctx context.Context, taskID, vendorID, url string) error {
	res := p.db.WithContext(ctx).Table(p.tracks).
		Where("task_id = ? AND vendor_id = ?", taskID, vendorID).
		Updates(map[string]interface{}{"archive_url": url, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return apperr.Persistence("set archive url", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ErrJobNotFound
	}
	return nil
}

// staleTaskIDs lists unfinished jobs created before cutoff that have no
// playable track.
func (p *partition) staleTaskIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := p.db.WithContext(ctx).Table(p.jobs).
		Where("status IN ?", statusStrings([]model.JobStatus{model.JobStatusPending, model.JobStatusProcessing})).
		Where("created_at < ?", cutoff).
		Where(fmt.Sprintf(
			"NOT EXISTS (SELECT 1 FROM %[1]s t WHERE t.task_id = %[2]s.task_id AND (t.stream_audio_url <> '' OR t.audio_url <> ''))",
			p.tracks, p.jobs)).
		Pluck("task_id", &ids).Error
	if err != nil {
		return nil, apperr.Persistence("find stale jobs", err)
	}
	return ids, nil
}

func statusStrings(statuses []model.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
