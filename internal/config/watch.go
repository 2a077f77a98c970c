package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events editors produce on save.
const reloadDelay = 100 * time.Millisecond

// WatchPluginSettings reloads the settings file whenever it changes and hands
// the parsed result to onChange. The parent directory is watched so that
// atomic replace-on-save is picked up. Invalid documents are logged and
// ignored. Blocks until ctx is cancelled.
func WatchPluginSettings(ctx context.Context, path string, logger *slog.Logger, onChange func(*PluginSettings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	logger.Debug("watching plugin settings", "path", target)

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDelay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			settings, err := LoadPluginSettings(target)
			if err != nil {
				logger.Warn("plugin settings reload failed", "path", target, "error", err)
				continue
			}
			logger.Info("plugin settings reloaded", "path", target, "plugins", len(settings.Plugins))
			onChange(settings)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("plugin settings watcher error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}
