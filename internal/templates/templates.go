// Package templates loads skill definitions from yaml files and keeps
// the registry in sync when the files change on disk.
package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skeinhq/skein/internal/resilience"
	"github.com/skeinhq/skein/internal/skill"
)

// SkillDef is the yaml shape of one skill. Durations are strings
// ("30s", "500ms") because yaml has no duration scalar. Handler names
// the registered handler implementation to bind.
type SkillDef struct {
	ID          string        `yaml:"id"`
	Description string        `yaml:"description"`
	Category    string        `yaml:"category"`
	Tags        []string      `yaml:"tags"`
	Keywords    []string      `yaml:"keywords"`
	Input       []skill.Field `yaml:"input"`
	Output      []skill.Field `yaml:"output"`
	Timeout     string        `yaml:"timeout"`
	Retry       *RetryDef     `yaml:"retry"`
	Handler     string        `yaml:"handler"`
}

type RetryDef struct {
	MaxRetries        int     `yaml:"max_retries"`
	Backoff           string  `yaml:"backoff"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// File is one template file: any number of skill definitions.
type File struct {
	Skills []SkillDef `yaml:"skills"`
}

// ParseFile decodes one template file.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	for i, def := range f.Skills {
		if def.ID == "" {
			return nil, fmt.Errorf("skill %d: missing id", i)
		}
		if def.Handler == "" {
			return nil, fmt.Errorf("skill %s: missing handler", def.ID)
		}
	}
	return &f, nil
}

// Build converts a definition into a registrable skill.
func (d *SkillDef) Build(h skill.Handler) (*skill.Skill, error) {
	s := &skill.Skill{
		ID:           d.ID,
		Description:  d.Description,
		Category:     d.Category,
		Tags:         d.Tags,
		Keywords:     d.Keywords,
		InputSchema:  d.Input,
		OutputSchema: d.Output,
		Handler:      h,
	}
	if d.Timeout != "" {
		timeout, err := time.ParseDuration(d.Timeout)
		if err != nil {
			return nil, fmt.Errorf("skill %s: bad timeout: %w", d.ID, err)
		}
		s.Timeout = timeout
	}
	if d.Retry != nil {
		policy := resilience.DefaultRetryPolicy()
		policy.MaxRetries = d.Retry.MaxRetries
		if d.Retry.Backoff != "" {
			backoff, err := time.ParseDuration(d.Retry.Backoff)
			if err != nil {
				return nil, fmt.Errorf("skill %s: bad backoff: %w", d.ID, err)
			}
			policy.Backoff = backoff
		}
		if d.Retry.BackoffMultiplier > 0 {
			policy.BackoffMultiplier = d.Retry.BackoffMultiplier
		}
		s.RetryPolicy = &policy
	}
	return s, nil
}

func isTemplate(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// loadDir parses every template file under path.
func loadDir(path string) ([]SkillDef, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read templates dir: %w", err)
	}

	var defs []SkillDef
	for _, entry := range entries {
		if entry.IsDir() || !isTemplate(entry.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(path, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", entry.Name(), err)
		}
		f, err := ParseFile(data)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", entry.Name(), err)
		}
		defs = append(defs, f.Skills...)
	}
	return defs, nil
}
