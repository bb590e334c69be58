package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"accelproxy/internal/platform/logger"
)

// Watcher reloads path on write events and republishes the [access] and
// [security] allow/deny lists via the onReload callback passed to
// NewWatcher. The registry table and server
// bind address are intentionally not hot-reloaded: changing those without
// a restart would leave in-flight connections and descriptor caches in an
// inconsistent state.
type Watcher struct {
	path     string
	mu       sync.Mutex
	current  Settings
	onReload func(Settings)
	log      *logger.Logger
}

// NewWatcher builds a Watcher seeded with initial settings.
func NewWatcher(path string, initial Settings, onReload func(Settings)) *Watcher {
	return &Watcher{
		path:     path,
		current:  initial,
		onReload: onReload,
		log:      logger.Named("config.watch"),
	}
}

// Settings returns the most recently loaded configuration.
func (w *Watcher) Settings() Settings {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run watches path for writes until stop is closed, reloading and
// invoking onReload with the access/security lists refreshed from disk
// on every write or create event. Errors reading the file after a write
// are logged and otherwise ignored; the watcher keeps running.
func (w *Watcher) Run(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.path); err != nil {
		return err
	}

	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("config watch error")
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("config reload failed, keeping previous settings")
		return
	}

	w.mu.Lock()
	merged := w.current
	merged.Access = next.Access
	merged.Security = next.Security
	w.current = merged
	w.mu.Unlock()

	w.log.Info().Str("path", w.path).Msg("config access/security lists reloaded")
	if w.onReload != nil {
		w.onReload(merged)
	}
}
