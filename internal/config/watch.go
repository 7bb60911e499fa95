package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/banshee-data/mosquito.tracker/internal/monitoring"
)

// Watch reloads the tuning file at path whenever it is written or
// recreated and hands each successfully loaded config to onChange.
// Invalid files are logged and skipped; the previous config stays in
// effect. Watch blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file itself so that
// editors which save by rename keep triggering reloads.
func Watch(ctx context.Context, path string, onChange func(*TuningConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	cleanPath := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(cleanPath)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(cleanPath), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != cleanPath {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadTuningConfig(cleanPath)
			if err != nil {
				monitoring.Logf("config: reload of %s rejected: %v", cleanPath, err)
				continue
			}
			monitoring.Logf("config: reloaded %s", cleanPath)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			monitoring.Logf("config: watcher error: %v", err)
		}
	}
}
