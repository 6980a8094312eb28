package config

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	logging "dbma/internal/logging"
)

// Watcher monitors the config file and re-applies the logging section on change.
// Only hot-reloadable settings take effect; everything else needs a restart.
type Watcher struct {
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewWatcher creates a config file watcher.
func NewWatcher() (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{watcher: w, stopCh: make(chan struct{})}, nil
}

// Start begins watching the config directory.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Watch the directory; editors replace files, which breaks direct file watches
	dir := filepath.Dir(Path())
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	logging.L_debug("config: watching for changes", "dir", dir)
	go w.watchLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	target := filepath.Base(Path())

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.L_warn("config: watch error", "error", err)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load()
	if err != nil {
		logging.L_warn("config: reload failed, keeping current settings", "error", err)
		return
	}
	logging.SetLevel(logging.ParseLevel(cfg.Logging.Level))
	logging.L_info("config: reloaded", "logLevel", cfg.Logging.Level)
}
