package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"projectsync/internal/utils"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events editors produce on save
const reloadDebounce = 200 * time.Millisecond

// Watch reloads the config at path whenever it changes and passes every valid
// version to onChange. Invalid edits are logged and skipped. It blocks until
// ctx is done.
//
// The parent directory is watched rather than the file, so editors that save
// by rename keep being observed.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

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

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			utils.Warnf("Config watcher error: %v", err)

		case <-fire:
			fire = nil
			cfg, err := Load(absPath)
			if err != nil {
				utils.Warnf("Ignoring config change: %v", err)
				continue
			}
			utils.Infof("Config reloaded from %s", absPath)
			onChange(cfg)
		}
	}
}
