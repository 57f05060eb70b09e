// Package pattern holds the named-pattern registry and the built-in
// execution patterns the dispatcher routes to.
package pattern

import (
	"context"
	"fmt"
	"sync"

	"github.com/skeinhq/skein/internal/core"
)

// Pattern is one closed execution variant selected by name.
type Pattern interface {
	Name() string
	Execute(ctx context.Context, ectx *core.ExecutionContext) (map[string]any, error)
}

// Dispatcher routes execute(name, ctx) to a registered pattern. The
// pattern surface is closed: variants register under unique names and an
// unknown name is a programming error.
type Dispatcher struct {
	mu       sync.RWMutex
	order    []string
	patterns map[string]Pattern
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{patterns: make(map[string]Pattern)}
}

// Register adds a pattern under its name, rejecting duplicates.
func (d *Dispatcher) Register(p Pattern) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("pattern name is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.patterns[p.Name()]; exists {
		return fmt.Errorf("pattern %s already registered", p.Name())
	}
	d.patterns[p.Name()] = p
	d.order = append(d.order, p.Name())
	return nil
}

// Get returns the named pattern.
func (d *Dispatcher) Get(name string) (Pattern, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.patterns[name]
	return p, ok
}

// Names lists registered patterns in registration order.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Execute routes to the named pattern.
func (d *Dispatcher) Execute(ctx context.Context, name string, ectx *core.ExecutionContext) (map[string]any, error) {
	p, ok := d.Get(name)
	if !ok {
		return nil, fmt.Errorf("pattern %s not registered", name)
	}
	return p.Execute(ctx, ectx)
}

// HumanGate is the injected approval collaborator. A nil gate means
// auto-approve.
type HumanGate interface {
	Request(ctx context.Context, question string, state map[string]any) (GateResponse, error)
}

// GateResponse is a human decision.
type GateResponse struct {
	Approved bool
	Feedback string
}
