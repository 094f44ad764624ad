package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDebounce = 200 * time.Millisecond

// ReloadHandler receives every successfully reloaded config.
type ReloadHandler func(res *LoadResult)

// Watcher reloads the config file when it changes on disk. Editors often
// replace the file instead of writing it, so the parent directory is watched.
type Watcher struct {
	path     string
	onReload ReloadHandler
	debounce time.Duration
	logger   *slog.Logger
}

func NewWatcher(path string, onReload ReloadHandler, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		onReload: onReload,
		debounce: defaultReloadDebounce,
		logger:   logger.With("component", "config-watcher"),
	}
}

// Run watches until ctx is cancelled. Invalid configs are logged and the
// previous one stays in effect.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer fw.Close()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", w.path, err)
	}
	dir := filepath.Dir(abs)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.logger.Debug("watching config", "path", abs)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	res, err := LoadFromPath(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected", "path", w.path, "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path, "windows", len(res.Config.Windows))
	if w.onReload != nil {
		w.onReload(res)
	}
}
