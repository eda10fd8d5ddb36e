package identity

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DeviceIDFile is the file name of the persisted device identifier.
const DeviceIDFile = "device_id"

// DeviceStore issues and persists the anonymous device identifier.
//
// The file is read on every call so that other processes sharing the data
// directory observe the same value. When the file cannot be read or written
// the store falls back to an identifier kept for the lifetime of the process.
type DeviceStore struct {
	fs     afero.Fs
	path   string
	logger *zap.Logger

	mu       sync.Mutex
	fallback string
}

func NewDeviceStore(fs afero.Fs, dataDir string, logger *zap.Logger) *DeviceStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceStore{
		fs:     fs,
		path:   filepath.Join(dataDir, DeviceIDFile),
		logger: logger,
	}
}

// Path returns the location of the device id file.
func (s *DeviceStore) Path() string {
	return s.path
}

// DeviceID returns the persisted identifier, creating it on first use.
// An existing identifier is never replaced.
func (s *DeviceStore) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := afero.ReadFile(s.fs, s.path)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	case !os.IsNotExist(err):
		s.logger.Warn("device id unreadable, using process fallback", zap.String("path", s.path), zap.Error(err))
		return s.fallbackLocked()
	}

	id := uuid.NewString()
	if err := s.persist(id); err != nil {
		s.logger.Warn("device id not persisted, using process fallback", zap.String("path", s.path), zap.Error(err))
		return s.fallbackLocked()
	}
	s.logger.Debug("device id created", zap.String("device_id", id))
	return id
}

// Clear removes the persisted identifier. Intended for tests and resets only.
func (s *DeviceStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fallback = ""
	if err := s.fs.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *DeviceStore) persist(id string) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, s.path, []byte(id+"\n"), 0o600)
}

func (s *DeviceStore) fallbackLocked() string {
	if s.fallback == "" {
		s.fallback = uuid.NewString()
	}
	return s.fallback
}
