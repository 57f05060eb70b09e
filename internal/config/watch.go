package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file on change and reports each diff against
// the previous snapshot. onChange runs on the watcher goroutine and only
// fires when a reloadable field changed; non-reloadable changes are
// logged. Blocks until ctx is done.
func Watch(ctx context.Context, current *Config, onChange func(next *Config, d ConfigDiff)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	path := Path()
	// Watch the directory: editors replace the file on save, which would
	// drop a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			next, err := Load()
			if err != nil {
				slog.Warn("config reload failed", "error", err)
				continue
			}

			d := Diff(current, next)
			for _, field := range d.NonReloadable {
				slog.Warn("config change requires restart", "field", field)
			}
			if d.HasChanges() {
				onChange(next, d)
			}
			current = next
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
