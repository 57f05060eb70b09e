package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skeinhq/skein/internal/config"
	"github.com/skeinhq/skein/internal/engine"
	"github.com/skeinhq/skein/internal/natsbus"
	"github.com/skeinhq/skein/internal/pattern"
	"github.com/skeinhq/skein/internal/scheduler"
	"github.com/skeinhq/skein/internal/skill"
	"github.com/skeinhq/skein/internal/store"
	"github.com/skeinhq/skein/internal/templates"
	"github.com/skeinhq/skein/internal/vault"
	"github.com/skeinhq/skein/internal/web"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the skein service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

// builtinHandlers are the handler implementations template files can
// bind. Embedders register their own through the engine API.
func builtinHandlers(name string) (skill.Handler, bool) {
	switch name {
	case "echo":
		return func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return input, nil
		}, true
	}
	return nil, false
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting skein", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Engine
	eng := engine.New(engine.Options{
		MaxConcurrent: cfg.Engine.MaxConcurrent,
		MaxErrors:     cfg.Engine.MaxErrors,
		Auto: pattern.AutoConfig{
			MinConfidence: cfg.Engine.MinConfidence,
			FallbackSkill: cfg.Engine.FallbackSkill,
		},
	})
	defer eng.Shutdown()

	// Secret expansion
	if cfg.Vault.Passphrase != "" {
		keeper := vault.NewKeeper(vault.New(cfg.Vault.Passphrase), db)
		eng.Executor().SetInputExpander(keeper.Expand)
		slog.Info("vault unlocked, secret expansion enabled")
	}

	// Event archive
	stopArchive := db.Archive(eng.Events())
	defer stopArchive()

	// Skill templates
	loader := templates.NewLoader(cfg.Templates, eng.Registry(), builtinHandlers, eng.Events())
	if _, err := os.Stat(cfg.Templates.Path); err == nil {
		if err := loader.Load(); err != nil {
			return fmt.Errorf("load templates: %w", err)
		}
		if cfg.Templates.Watch {
			go func() {
				if err := loader.Watch(ctx); err != nil {
					slog.Error("template watcher failed", "error", err)
				}
			}()
		}
	} else {
		slog.Warn("templates dir missing, skipping", "path", cfg.Templates.Path)
	}

	// Embedded NATS event fan-out
	if cfg.NATS.Enabled {
		srv, err := natsbus.New(cfg.NATS)
		if err != nil {
			return fmt.Errorf("init nats: %w", err)
		}
		defer srv.Close()

		client, err := natsbus.NewClient(srv)
		if err != nil {
			return fmt.Errorf("init nats client: %w", err)
		}
		defer client.Close()

		stopBridge := natsbus.Bridge(eng.Events(), client)
		defer stopBridge()
		slog.Info("nats started", "port", cfg.NATS.Port)
	}

	// Scheduler
	sched := scheduler.New(db, eng, eng.Events(), cfg.Scheduler)
	go sched.Start(ctx)

	// Live config reload for the fields that support it
	go func() {
		err := config.Watch(ctx, cfg, func(next *config.Config, d config.ConfigDiff) {
			if d.SchedulerChanged {
				sched.UpdateConfig(d.NewPollInterval.PollInterval)
				slog.Info("scheduler poll interval updated", "interval", d.NewPollInterval.PollInterval)
			}
			if d.EngineChanged || d.TemplatesChanged {
				slog.Warn("engine/templates config changed, takes effect on restart")
			}
		})
		if err != nil {
			slog.Warn("config watcher stopped", "error", err)
		}
	}()

	// Web inspector
	if cfg.Web.Enabled {
		srv := web.NewServer(db, eng, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	return nil
}
