package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/platformbuilds/atalaya/pkg/logger"
)

// FileWatcher watches a single file and invokes registered callbacks
// whenever it is written. Used for alert rule hot reload.
type FileWatcher struct {
	path      string
	logger    logger.Logger
	mu        sync.RWMutex
	callbacks []func(path string)
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewFileWatcher(path string, log logger.Logger) *FileWatcher {
	return &FileWatcher{
		path:      path,
		logger:    log,
		callbacks: make([]func(string), 0),
		stopCh:    make(chan struct{}),
	}
}

// Start begins watching for file changes. Blocks until the context is
// cancelled or Stop is called.
func (w *FileWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	w.logger.Info("File watcher started", "path", w.path)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.logger.Info("Watched file changed", "file", event.Name)
				w.notify(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("File watcher error", "error", err)

		case <-ctx.Done():
			w.logger.Info("File watcher stopping")
			return nil

		case <-w.stopCh:
			w.logger.Info("File watcher stopped")
			return nil
		}
	}
}

// OnChange registers a callback invoked on every write to the file
func (w *FileWatcher) OnChange(callback func(path string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Stop stops the watcher
func (w *FileWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *FileWatcher) notify(path string) {
	w.mu.RLock()
	callbacks := make([]func(string), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		go func(cb func(string)) {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("File watcher callback panicked", "panic", r)
				}
			}()
			cb(path)
		}(cb)
	}
}
