package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Web       WebConfig       `yaml:"web"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Templates TemplatesConfig `yaml:"templates"`
	Vault     VaultConfig     `yaml:"vault"`
}

type EngineConfig struct {
	MaxConcurrent  int           `yaml:"max_concurrent"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxErrors      int           `yaml:"max_errors"`
	MinConfidence  float64       `yaml:"min_confidence"`
	FallbackSkill  string        `yaml:"fallback_skill"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type TemplatesConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	return Config{
		Engine: EngineConfig{
			MaxConcurrent:  10,
			DefaultTimeout: 60 * time.Second,
			MaxErrors:      100,
			MinConfidence:  0.3,
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/skein.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Templates: TemplatesConfig{
			Path: "templates",
		},
	}
}

// Path returns the config file location, from SKEIN_CONFIG or the default.
func Path() string {
	if p := os.Getenv("SKEIN_CONFIG"); p != "" {
		return p
	}
	return "config/skein.yaml"
}

func Load() (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(Path())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SKEIN_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("SKEIN_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("SKEIN_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("SKEIN_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SKEIN_TEMPLATES_PATH"); v != "" {
		cfg.Templates.Path = v
	}
	if v := os.Getenv("SKEIN_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("SKEIN_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.MaxConcurrent = n
		}
	}
}
