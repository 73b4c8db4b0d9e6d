package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/ent0n29/complyassist/internal/history"
)

// ModelLimitsWatcher reloads the model table whenever the limits file changes.
// A file that fails to parse or validate leaves the current table in place.
type ModelLimitsWatcher struct {
	path    string
	table   *history.ModelTable
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	// reloaded is signalled after every reload attempt; tests use it.
	reloaded func(error)
}

func NewModelLimitsWatcher(path string, table *history.ModelTable, logger *slog.Logger) (*ModelLimitsWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fileWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// Watch the directory: editors and config-map mounts replace the file by rename.
	if err := fileWatcher.Add(filepath.Dir(path)); err != nil {
		_ = fileWatcher.Close()
		return nil, fmt.Errorf("watch path %s: %w", path, err)
	}
	return &ModelLimitsWatcher{
		path:    filepath.Clean(path),
		table:   table,
		logger:  logger,
		watcher: fileWatcher,
	}, nil
}

// Start blocks until ctx is done.
func (w *ModelLimitsWatcher) Start(ctx context.Context) {
	defer w.watcher.Close()
	w.logger.Info("model limits watcher started", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("model limits watcher stopped")
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Error("model limits watcher error", "error", err)
			}
		}
	}
}

func (w *ModelLimitsWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	err := w.Reload()
	if err != nil {
		w.logger.Error("model limits reload rejected", "path", w.path, "error", err)
	} else {
		w.logger.Info("model limits reloaded", "path", w.path, "models", len(w.table.Models()))
	}
	if w.reloaded != nil {
		w.reloaded(err)
	}
}

// Close releases the fsnotify watcher. Start returns once it is closed, and
// closing twice is harmless.
func (w *ModelLimitsWatcher) Close() error {
	return w.watcher.Close()
}

// Reload reads the file and swaps it into the table.
func (w *ModelLimitsWatcher) Reload() error {
	models, err := LoadModelLimits(w.path)
	if err != nil {
		return err
	}
	return w.table.Replace(models)
}
