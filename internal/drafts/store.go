// Package drafts keeps a per-device record of submitted generations in the
// client's data directory. It mirrors what the Record Store holds for the
// anonymous identity and serves as the fallback listing when the Record Store
// cannot be reached.
package drafts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/shattavibe/api/internal/model"
)

// DraftsFile is the file name of the drafts list inside the data directory.
const DraftsFile = "drafts.json"

// Draft is one locally remembered submission.
type Draft struct {
	ID           string          `json:"id"`
	TaskID       string          `json:"taskId"`
	OwnerKey     string          `json:"ownerKey"`
	Prompt       string          `json:"prompt"`
	Model        model.SunoModel `json:"model"`
	Instrumental bool            `json:"instrumental"`
	Status       model.JobStatus `json:"status"`
	Tracks       []model.Track   `json:"tracks,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// ToJob converts the draft into the shared job shape.
func (d Draft) ToJob(owner model.Identity) model.GenerationJob {
	return model.GenerationJob{
		TaskID:       d.TaskID,
		Owner:        owner,
		Prompt:       d.Prompt,
		Model:        d.Model,
		Instrumental: d.Instrumental,
		Status:       d.Status,
		ErrorMessage: d.Error,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		Tracks:       d.Tracks,
	}
}

// Store reads and writes the drafts file. Every operation re-reads the file
// so that processes sharing the data directory see each other's writes.
type Store struct {
	fs   afero.Fs
	path string
	now  func() time.Time

	mu sync.Mutex
}

func NewStore(fs afero.Fs, dataDir string) *Store {
	return &Store{
		fs:   fs,
		path: filepath.Join(dataDir, DraftsFile),
		now:  time.Now,
	}
}

// Save appends a new draft. ID and timestamps are filled in when empty.
func (s *Store) Save(d Draft) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return Draft{}, err
	}

	now := s.now().UTC()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = model.JobStatusPending
	}

	all = append(all, d)
	if err := s.write(all); err != nil {
		return Draft{}, err
	}
	return d, nil
}

// Update applies fn to the draft with the given task id. A status change
// that would move the draft backwards is ignored, mirroring the Record Store.
func (s *Store) Update(taskID string, fn func(*Draft)) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return Draft{}, err
	}

	for i := range all {
		if all[i].TaskID != taskID {
			continue
		}
		prev := all[i].Status
		fn(&all[i])
		if all[i].Status != prev && !prev.CanAdvanceTo(all[i].Status) {
			all[i].Status = prev
		}
		all[i].UpdatedAt = s.now().UTC()
		if err := s.write(all); err != nil {
			return Draft{}, err
		}
		return all[i], nil
	}
	return Draft{}, fmt.Errorf("draft %s: %w", taskID, os.ErrNotExist)
}

// Get returns the draft with the given task id.
func (s *Store) Get(taskID string) (Draft, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return Draft{}, false, err
	}
	for _, d := range all {
		if d.TaskID == taskID {
			return d, true, nil
		}
	}
	return Draft{}, false, nil
}

// List returns the drafts owned by ownerKey, newest first. An empty
// ownerKey returns every draft.
func (s *Store) List(ownerKey string) ([]Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return nil, err
	}

	out := make([]Draft, 0, len(all))
	for _, d := range all {
		if ownerKey == "" || d.OwnerKey == ownerKey {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// CompletedCount counts completed drafts for ownerKey.
func (s *Store) CompletedCount(ownerKey string) (int, error) {
	list, err := s.List(ownerKey)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range list {
		if d.Status == model.JobStatusCompleted {
			n++
		}
	}
	return n, nil
}

// Clear removes every draft.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear drafts: %w", err)
	}
	return nil
}

func (s *Store) load() ([]Draft, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read drafts: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var all []Draft
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("failed to decode drafts: %w", err)
	}
	return all, nil
}

func (s *Store) write(all []Draft) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode drafts: %w", err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write drafts: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace drafts: %w", err)
	}
	return nil
}
