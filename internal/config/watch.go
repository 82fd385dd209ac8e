package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reloads the settings file when it changes and hands the result to
// a callback. A file that fails to parse is logged and skipped; the callback
// only ever sees valid settings.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(Settings)
	log      logr.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher returns a Watcher for path. onChange runs on a timer goroutine.
func NewWatcher(path string, log logr.Logger, onChange func(Settings)) *Watcher {
	return &Watcher{path: path, debounce: defaultDebounce, onChange: onChange, log: log}
}

// Run watches until ctx is done. It watches the parent directory so that
// atomic replacement by Save is seen as well as in-place writes.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	w.log.Info("watching settings file", "path", w.path)

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error(err, "settings watcher error")
		}
	}
}

// schedule coalesces bursts of events from editors into one reload.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	s, err := Load(w.path)
	if err != nil {
		w.log.Error(err, "reloading settings, keeping previous")
		return
	}
	w.log.Info("settings reloaded", "baseUrl", s.Connection.BaseURL, "namespace", s.Connection.Namespace)
	w.onChange(s)
}
