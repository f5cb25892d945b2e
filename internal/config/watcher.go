package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the config file whenever it changes on disk and invokes
// onReload with the freshly parsed value. It watches the file's parent
// directory rather than the file itself, since editors and config
// management tools commonly replace a file via rename rather than
// writing it in place, which a direct file watch would miss.
type Watcher struct {
	path     string
	log      *zap.Logger
	onReload func(*Config)
	done     chan struct{}
}

// NewWatcher builds a Watcher for path. Call Start to begin watching.
func NewWatcher(path string, log *zap.Logger, onReload func(*Config)) *Watcher {
	return &Watcher{path: path, log: log, onReload: onReload, done: make(chan struct{})}
}

// Start launches the watch loop in a background goroutine. Call Stop to
// terminate it.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return err
	}

	go w.loop(fw)
	return nil
}

func (w *Watcher) loop(fw *fsnotify.Watcher) {
	defer fw.Close()

	// Reload attempts are debounced: editors often emit several events
	// (write, chmod, rename) for a single logical save.
	var debounce *time.Timer
	const debounceWindow = 150 * time.Millisecond

	reload := func() {
		cfg, err := LoadFromPath(w.path)
		if err != nil {
			w.log.Warn("config reload failed, keeping previous config", zap.Error(err))
			return
		}
		w.log.Info("config reloaded", zap.String("path", w.path))
		w.onReload(cfg)
	}

	for {
		select {
		case <-w.done:
			return
		case _, ok := <-fw.Events:
			if !ok {
				return
			}
			// Any filesystem notification in the watched directory triggers
			// a reload attempt: editors and config-management tools replace
			// the file via temp-write-then-rename as often as they write it
			// in place, and filtering by name or op would miss that.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceWindow, reload)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Stop terminates the watch loop.
func (w *Watcher) Stop() {
	close(w.done)
}
