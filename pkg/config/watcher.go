package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDelay is how long the watcher waits for writes to settle
// before reloading.
const DefaultReloadDelay = 500 * time.Millisecond

// ReloadFunc receives the result of a reload. On failure f is nil and the
// previous configuration stays in effect.
type ReloadFunc func(f *File, err error)

// Watcher reloads a configuration file whenever it changes on disk.
type Watcher struct {
	path     string
	delay    time.Duration
	logger   zerolog.Logger
	reloadFn ReloadFunc

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	timer   *time.Timer
	done    chan struct{}
}

// NewWatcher creates a watcher for path. A delay of zero uses DefaultReloadDelay.
func NewWatcher(path string, delay time.Duration, logger zerolog.Logger, reloadFn ReloadFunc) *Watcher {
	if delay <= 0 {
		delay = DefaultReloadDelay
	}
	return &Watcher{
		path:     filepath.Clean(path),
		delay:    delay,
		logger:   logger.With().Str("component", "config-watcher").Logger(),
		reloadFn: reloadFn,
		done:     make(chan struct{}),
	}
}

// Start begins watching. The parent directory is watched rather than the
// file itself so that editors replacing the file by rename are noticed.
// Watching stops when ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	w.watcher = watcher

	go w.processEvents(ctx)

	w.logger.Info().Str("path", w.path).Msg("Started watching configuration")
	return nil
}

// processEvents debounces file system events and triggers reloads.
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				w.stopTimer()
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Configuration file changed")

			// Debounce reload
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.AfterFunc(w.delay, w.reload)
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.stopTimer()
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) reload() {
	f, err := Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to reload configuration")
		w.reloadFn(nil, err)
		return
	}
	w.logger.Info().
		Int("resources", len(f.Resources)).
		Int("pipelines", len(f.Pipelines)).
		Msg("Configuration reloaded")
	w.reloadFn(f, nil)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Stop stops watching and waits for the event loop to exit. A reload that
// is already running is not waited for.
func (w *Watcher) Stop() error {
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	<-w.done
	return err
}
