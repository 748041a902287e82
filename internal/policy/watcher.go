package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/gzhole/promptshield/internal/logging"
)

// DefaultDebounce is how long the watcher waits after the last change before
// reloading.
const DefaultDebounce = 500 * time.Millisecond

// Reloader is implemented by *Engine.
type Reloader interface {
	Reload() error
}

// Watcher reloads an engine when its policy source changes on disk.
type Watcher struct {
	watcher  *fsnotify.Watcher
	target   Reloader
	path     string
	debounce time.Duration
	logger   *zap.Logger
}

// NewWatcher watches path, a file or a pack directory. For a file the parent
// directory is watched so editors that replace the file by rename are seen.
func NewWatcher(target Reloader, path string, logger *zap.Logger) (*Watcher, error) {
	logger = logging.OrNop(logger)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat policy source: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := path
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	return &Watcher{
		watcher:  w,
		target:   target,
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		logger:   logger,
	}, nil
}

// Run blocks until ctx is cancelled, reloading after each burst of changes.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("policy watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove)) {
		return false
	}
	name := filepath.Clean(event.Name)
	if name == w.path {
		return true
	}
	// Pack directory: any YAML file inside it counts.
	return filepath.Dir(name) == w.path && isYAMLFile(name)
}

func (w *Watcher) reload() {
	if err := w.target.Reload(); err != nil {
		w.logger.Warn("policy hot-reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("policy hot-reload complete", zap.String("path", w.path))
}
