package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	EngineChanged bool
	NewEngine     EngineConfig

	SchedulerChanged bool
	NewPollInterval  SchedulerConfig

	TemplatesChanged bool
	NewTemplates     TemplatesConfig

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return d.EngineChanged ||
		d.SchedulerChanged ||
		d.TemplatesChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if !reflect.DeepEqual(old.Engine, new.Engine) {
		d.EngineChanged = true
		d.NewEngine = new.Engine
	}

	if old.Scheduler.PollInterval != new.Scheduler.PollInterval {
		d.SchedulerChanged = true
		d.NewPollInterval = new.Scheduler
	}

	if !reflect.DeepEqual(old.Templates, new.Templates) {
		d.TemplatesChanged = true
		d.NewTemplates = new.Templates
	}

	// Non-reloadable warnings
	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.NATS.Port != new.NATS.Port {
		d.NonReloadable = append(d.NonReloadable, "nats.port")
	}
	if old.NATS.DataDir != new.NATS.DataDir {
		d.NonReloadable = append(d.NonReloadable, "nats.data_dir")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.Vault.Passphrase != new.Vault.Passphrase {
		d.NonReloadable = append(d.NonReloadable, "vault.passphrase")
	}

	return d
}
