// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives the outcome of a reload triggered by ev. cfg is nil
// when err is set; the previous configuration stays in effect.
type ReloadFunc func(cfg *Config, ev fsnotify.Event, err error)

// Watch reloads the config file at path whenever it changes and hands the
// result to fn. The parent directory is watched so that editors replacing
// the file are noticed. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, fn ReloadFunc) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			cfg, _, err := loadWithOptions(ctx, LoadOptions{ConfigFilePath: path})
			fn(cfg, ev, err)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fn(nil, fsnotify.Event{Name: path}, fmt.Errorf("config watcher: %w", err))
		}
	}
}
