package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/shattavibe/api/internal/event"
)

// FileSignals watches the data directory and signals when one of the named
// files is written, created, removed or renamed. Another process signing out
// or clearing the device id is seen this way.
type FileSignals struct {
	watcher *fsnotify.Watcher
	names   map[string]struct{}
	bus     *event.Bus
	logger  *zap.Logger
	done    chan struct{}
}

func NewFileSignals(dir string, names []string, logger *zap.Logger) (*FileSignals, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	f := &FileSignals{
		watcher: watcher,
		names:   make(map[string]struct{}, len(names)),
		bus:     event.NewBus(),
		logger:  logger,
		done:    make(chan struct{}),
	}
	for _, n := range names {
		f.names[n] = struct{}{}
	}
	go f.loop()
	return f, nil
}

func (f *FileSignals) Events() (<-chan struct{}, func()) {
	return f.bus.Subscribe()
}

func (f *FileSignals) Close() error {
	err := f.watcher.Close()
	<-f.done
	return err
}

func (f *FileSignals) loop() {
	defer close(f.done)
	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if _, watched := f.names[filepath.Base(ev.Name)]; !watched {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				f.logger.Debug("identity file changed", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
				f.bus.Publish()
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}
