package config

import (
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"invoicely/internal/domain"
)

// reloadDelay coalesces the burst of events an editor save produces.
var reloadDelay = 200 * time.Millisecond

// newWatcher creates the fsnotify watcher; tests may replace it to inject errors.
var newWatcher = fsnotify.NewWatcher

var (
	ErrWatcherRunning = errors.New("config watcher: already started")
	ErrNilCallback    = errors.New("config watcher: callback must not be nil")
)

// Watcher reloads a config file when it changes on disk and hands the new
// configuration to a callback. Files that fail to load are logged and skipped.
type Watcher struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
	running bool
}

// NewWatcher returns a Watcher for path. A nil logger uses slog.Default().
func NewWatcher(path string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, logger: logger}
}

// Start begins watching. The parent directory is watched so that files
// replaced by rename (as most editors save) are still picked up.
func (w *Watcher) Start(onChange func(*domain.Config)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if onChange == nil {
		return ErrNilCallback
	}
	if w.running {
		return ErrWatcherRunning
	}
	fw, err := newWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw
	w.done = make(chan struct{})
	w.running = true
	go w.loop(fw, w.done, onChange)
	return nil
}

// Stop ends watching. Safe to call when not started.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	close(w.done)
	w.running = false
	return w.watcher.Close()
}

func (w *Watcher) loop(fw *fsnotify.Watcher, done <-chan struct{}, onChange func(*domain.Config)) {
	target := filepath.Base(w.path)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDelay, func() {
				select {
				case <-done:
					return
				default:
				}
				cfg, err := Load(w.path)
				if err != nil {
					w.logger.Warn("config: reload failed", "path", w.path, "error", err)
					return
				}
				w.logger.Info("config: reloaded", "path", w.path)
				onChange(cfg)
			})
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config: watch error", "error", err)
		}
	}
}
