package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives the freshly loaded config after the file changes.
type ReloadFunc func(*Config)

// Watch observes the config file and calls onReload with the new config
// whenever it is rewritten. Editors often replace files via rename, so the
// parent directory is watched and events are filtered by name. Reload
// failures are logged and the previous config stays in effect.
func Watch(ctx context.Context, path string, onReload ReloadFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		// Debounce bursts of events from a single save.
		var timer *time.Timer
		reload := func() {
			cfg, err := Load(absPath)
			if err != nil {
				slog.Warn("config reload failed, keeping previous", "path", absPath, "error", err)
				return
			}
			slog.Info("config reloaded", "path", absPath)
			onReload(cfg)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(250*time.Millisecond, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			}
		}
	}()

	return nil
}
