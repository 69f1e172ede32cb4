package cliconfig

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roamio/venuesync/pkg/log"
)

const debounceDelay = 100 * time.Millisecond

// Watcher monitors the config file via fsnotify and reapplies the
// hot-reloadable settings (sync interval, log level) while the daemon
// runs. Flags that were set explicitly keep their precedence.
type Watcher struct {
	path    string
	changed map[string]bool
	onApply func(Config)
	logger  log.Logger

	mu       sync.Mutex
	debounce *time.Timer
}

// NewWatcher creates a watcher for the given config file. onApply is
// invoked with the freshly layered config after every change.
func NewWatcher(path string, changed map[string]bool, onApply func(Config), logger log.Logger) *Watcher {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Watcher{
		path:    path,
		changed: changed,
		onApply: onApply,
		logger:  logger,
	}
}

// Run watches the config file's directory until the context is canceled.
// Watching the directory rather than the file survives editors that
// replace the file on save.
func (w *Watcher) Run(ctx context.Context) {
	if w.path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("config watcher setup failed", log.Err(err))
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		w.logger.Error("config watcher cannot watch directory",
			log.String("dir", dir), log.Err(err))
		return
	}

	w.logger.Debug("watching config file", log.String("path", w.path))

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", log.Err(err))
		}
	}
}

// scheduleReload debounces bursts of write events into one reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	cfg := DefaultConfig()
	if err := LoadFile(w.path, &cfg, w.changed); err != nil {
		w.logger.Warn("config reload failed", log.Err(err))
		return
	}
	if err := ApplyEnv(&cfg, w.changed); err != nil {
		w.logger.Warn("config reload failed", log.Err(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("reloaded config invalid, keeping current", log.Err(err))
		return
	}

	w.logger.Info("config reloaded", log.String("path", w.path))
	if w.onApply != nil {
		w.onApply(cfg)
	}
}
