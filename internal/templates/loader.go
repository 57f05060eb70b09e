package templates

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/skeinhq/skein/internal/bus"
	"github.com/skeinhq/skein/internal/config"
	"github.com/skeinhq/skein/internal/skill"
)

// Resolver maps a template's handler name to an implementation.
type Resolver func(name string) (skill.Handler, bool)

// Loader syncs template files into the skill registry. Load performs a
// full pass; Watch re-syncs on every write to the directory.
type Loader struct {
	cfg      config.TemplatesConfig
	registry *skill.Registry
	resolve  Resolver
	events   *bus.Bus

	mu     sync.Mutex
	loaded map[string]bool // skill ids owned by the loader
}

func NewLoader(cfg config.TemplatesConfig, registry *skill.Registry, resolve Resolver, events *bus.Bus) *Loader {
	return &Loader{
		cfg:      cfg,
		registry: registry,
		resolve:  resolve,
		events:   events,
		loaded:   make(map[string]bool),
	}
}

// Load parses every template file and syncs the registry: new skills
// register, changed skills re-register, removed skills unregister.
// Definitions whose handler does not resolve are skipped with a warning
// so one missing binding cannot block the rest of the directory.
func (l *Loader) Load() error {
	defs, err := loadDir(l.cfg.Path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]bool, len(defs))
	var registered, skipped int
	for _, def := range defs {
		handler, ok := l.resolve(def.Handler)
		if !ok {
			slog.Warn("template handler unresolved", "skill", def.ID, "handler", def.Handler)
			skipped++
			continue
		}
		s, err := def.Build(handler)
		if err != nil {
			return err
		}
		if l.loaded[def.ID] || l.registered(def.ID) {
			l.registry.Unregister(def.ID)
		}
		if err := l.registry.Register(s); err != nil {
			return fmt.Errorf("register %s: %w", def.ID, err)
		}
		l.loaded[def.ID] = true
		seen[def.ID] = true
		registered++
	}

	// Retire skills whose definition disappeared
	for id := range l.loaded {
		if !seen[id] {
			l.registry.Unregister(id)
			delete(l.loaded, id)
		}
	}

	if l.events != nil {
		l.events.Emit("templatesLoaded", "", map[string]any{
			"registered": registered,
			"skipped":    skipped,
		})
	}
	return nil
}

func (l *Loader) registered(id string) bool {
	_, ok := l.registry.Get(id)
	return ok
}

// Watch re-runs Load whenever a template file is written or created.
// Blocks until ctx is done.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.cfg.Path); err != nil {
		return fmt.Errorf("watch templates dir: %w", err)
	}

	slog.Info("template watcher started", "path", l.cfg.Path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !isTemplate(event.Name) {
				continue
			}
			if err := l.Load(); err != nil {
				slog.Error("template reload failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("template watcher", "error", err)
		}
	}
}
