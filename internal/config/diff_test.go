package config

import (
	"testing"
	"time"
)

func TestDiff_NoChanges(t *testing.T) {
	cfg := &Config{
		Engine:    EngineConfig{MaxConcurrent: 10, DefaultTimeout: time.Minute},
		Scheduler: SchedulerConfig{PollInterval: 30 * time.Second},
	}
	d := Diff(cfg, cfg)
	if d.HasChanges() {
		t.Error("expected no changes")
	}
}

func TestDiff_EngineChanged(t *testing.T) {
	old := &Config{Engine: EngineConfig{MaxConcurrent: 10, MinConfidence: 0.3}}
	new := &Config{Engine: EngineConfig{MaxConcurrent: 4, MinConfidence: 0.3}}
	d := Diff(old, new)
	if !d.EngineChanged {
		t.Error("expected engine changed")
	}
	if d.NewEngine.MaxConcurrent != 4 {
		t.Errorf("expected max_concurrent 4, got %d", d.NewEngine.MaxConcurrent)
	}
}

func TestDiff_SchedulerChanged(t *testing.T) {
	old := &Config{Scheduler: SchedulerConfig{PollInterval: 30 * time.Second}}
	new := &Config{Scheduler: SchedulerConfig{PollInterval: 60 * time.Second}}
	d := Diff(old, new)
	if !d.SchedulerChanged {
		t.Error("expected scheduler changed")
	}
	if d.NewPollInterval.PollInterval != 60*time.Second {
		t.Errorf("expected 60s, got %v", d.NewPollInterval.PollInterval)
	}
}

func TestDiff_TemplatesChanged(t *testing.T) {
	old := &Config{Templates: TemplatesConfig{Path: "templates"}}
	new := &Config{Templates: TemplatesConfig{Path: "templates", Watch: true}}
	d := Diff(old, new)
	if !d.TemplatesChanged {
		t.Error("expected templates changed")
	}
	if !d.NewTemplates.Watch {
		t.Error("expected new templates watch enabled")
	}
}

func TestDiff_NonReloadable(t *testing.T) {
	old := &Config{
		Web:   WebConfig{Port: 8080},
		Store: StoreConfig{Path: "data/skein.db"},
	}
	new := &Config{
		Web:   WebConfig{Port: 9090},
		Store: StoreConfig{Path: "data/other.db"},
	}
	d := Diff(old, new)
	if len(d.NonReloadable) != 2 {
		t.Errorf("expected 2 non-reloadable warnings, got %v", d.NonReloadable)
	}
	if d.HasChanges() {
		t.Error("non-reloadable fields should not count as changes")
	}
}
