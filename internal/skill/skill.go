// Package skill holds the skill registry and the bounded executor that
// every pattern bottoms out in.
package skill

import (
	"context"
	"time"

	"github.com/skeinhq/skein/internal/resilience"
)

// Handler is a skill's callable. Handlers observe cancellation through ctx
// or the reserved _cancel input handle.
type Handler func(ctx context.Context, input map[string]any) (map[string]any, error)

// FieldType is the semantic type of a schema field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
	TypeAny     FieldType = "any"
)

// Field declares one input or output schema entry. Check, if set, is a
// custom predicate run after the type check.
type Field struct {
	Name     string            `yaml:"name" json:"name"`
	Type     FieldType         `yaml:"type" json:"type"`
	Required bool              `yaml:"required" json:"required"`
	Check    func(v any) error `yaml:"-" json:"-"`
}

// Skill is a named async-capable handler with validated input and output.
type Skill struct {
	ID           string                   `yaml:"id" json:"id"`
	Description  string                   `yaml:"description" json:"description,omitempty"`
	Category     string                   `yaml:"category" json:"category,omitempty"`
	Tags         []string                 `yaml:"tags" json:"tags,omitempty"`
	Keywords     []string                 `yaml:"keywords" json:"keywords,omitempty"`
	InputSchema  []Field                  `yaml:"input" json:"input,omitempty"`
	OutputSchema []Field                  `yaml:"output" json:"output,omitempty"`
	Dependencies []string                 `yaml:"dependencies" json:"dependencies,omitempty"`
	RetryPolicy  *resilience.RetryPolicy  `yaml:"retry" json:"retry,omitempty"`
	Timeout      time.Duration            `yaml:"timeout" json:"timeout,omitempty"`
	Permissions  []string                 `yaml:"permissions" json:"permissions,omitempty"`
	Handler      Handler                  `yaml:"-" json:"-"`
}

// HasTag reports whether the skill carries the tag.
func (s *Skill) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
