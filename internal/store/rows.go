package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/shattavibe/api/internal/model"
)

const (
	tableGenerations          = "generations"
	tableAnonymousGenerations = "anonymous_generations"
	tableTracks               = "tracks"
	tableAnonymousTracks      = "anonymous_tracks"
)

// generationRow is shared by both job tables; the partition decides which.
type generationRow struct {
	ID           uint   `gorm:"primaryKey"`
	TaskID       string `gorm:"size:64;not null"`
	OwnerID      string `gorm:"size:128;not null"`
	Prompt       string `gorm:"type:text"`
	Model        string `gorm:"size:16"`
	Instrumental bool
	NegativeTags string `gorm:"type:text"`
	VocalGender  string `gorm:"size:1"`
	Status       string `gorm:"size:16;not null"`
	ErrorMessage string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type trackRow struct {
	ID                   uint   `gorm:"primaryKey"`
	TaskID               string `gorm:"size:64;not null"`
	VendorID             string `gorm:"size:64;not null"`
	Title                string
	Tags                 string `gorm:"type:text"`
	Prompt               string `gorm:"type:text"`
	ModelName            string
	AudioURL             string `gorm:"type:text"`
	StreamAudioURL       string `gorm:"type:text"`
	ImageURL             string `gorm:"type:text"`
	SourceAudioURL       string `gorm:"type:text"`
	SourceStreamAudioURL string `gorm:"type:text"`
	SourceImageURL       string `gorm:"type:text"`
	ArchiveURL           string `gorm:"type:text"`
	Duration             float64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// AutoMigrate creates the four Record Store tables and their indexes.
// Index names carry the table name because both dialects keep them in one
// namespace per schema.
func AutoMigrate(db *gorm.DB) error {
	for _, table := range []string{tableGenerations, tableAnonymousGenerations} {
		if err := db.Table(table).AutoMigrate(&generationRow{}); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", table, err)
		}
		stmts := []string{
			fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_task_id ON %s (task_id)", table, table),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_owner_status ON %s (owner_id, status)", table, table),
		}
		if err := execAll(db, stmts); err != nil {
			return fmt.Errorf("failed to index %s: %w", table, err)
		}
	}

	for _, table := range []string{tableTracks, tableAnonymousTracks} {
		if err := db.Table(table).AutoMigrate(&trackRow{}); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", table, err)
		}
		stmts := []string{
			fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_task_vendor ON %s (task_id, vendor_id)", table, table),
		}
		if err := execAll(db, stmts); err != nil {
			return fmt.Errorf("failed to index %s: %w", table, err)
		}
	}
	return nil
}

func execAll(db *gorm.DB, stmts []string) error {
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func toGenerationRow(job *model.GenerationJob) generationRow {
	return generationRow{
		TaskID:       job.TaskID,
		OwnerID:      job.Owner.OwnerID(),
		Prompt:       job.Prompt,
		Model:        string(job.Model),
		Instrumental: job.Instrumental,
		NegativeTags: job.NegativeTags,
		VocalGender:  string(job.VocalGender),
		Status:       string(job.Status),
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}

func (r generationRow) toModel(kind model.IdentityKind) model.GenerationJob {
	owner := model.Anonymous(r.OwnerID)
	if kind == model.IdentityAuthenticated {
		owner = model.Authenticated(r.OwnerID)
	}
	return model.GenerationJob{
		TaskID:       r.TaskID,
		Owner:        owner,
		Prompt:       r.Prompt,
		Model:        model.SunoModel(r.Model),
		Instrumental: r.Instrumental,
		NegativeTags: r.NegativeTags,
		VocalGender:  model.VocalGender(r.VocalGender),
		Status:       model.JobStatus(r.Status),
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func toTrackRow(taskID string, t model.Track) trackRow {
	return trackRow{
		TaskID:               taskID,
		VendorID:             t.ID,
		Title:                t.Title,
		Tags:                 t.Tags,
		Prompt:               t.Prompt,
		ModelName:            t.ModelName,
		AudioURL:             t.AudioURL,
		StreamAudioURL:       t.StreamAudioURL,
		ImageURL:             t.ImageURL,
		SourceAudioURL:       t.SourceAudioURL,
		SourceStreamAudioURL: t.SourceStreamAudioURL,
		SourceImageURL:       t.SourceImageURL,
		Duration:             t.Duration,
	}
}

func (r trackRow) toModel() model.Track {
	return model.Track{
		ID:                   r.VendorID,
		Title:                r.Title,
		Tags:                 r.Tags,
		Prompt:               r.Prompt,
		ModelName:            r.ModelName,
		StreamAudioURL:       r.StreamAudioURL,
		AudioURL:             r.AudioURL,
		ImageURL:             r.ImageURL,
		SourceAudioURL:       r.SourceAudioURL,
		SourceStreamAudioURL: r.SourceStreamAudioURL,
		SourceImageURL:       r.SourceImageURL,
		ArchiveURL:           r.ArchiveURL,
		Duration:             r.Duration,
	}
}
