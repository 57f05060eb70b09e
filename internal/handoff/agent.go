// Package handoff routes conversations between agents: filtered context
// handoffs plus a triage classifier that picks the receiving agent.
package handoff

import (
	"context"
	"fmt"
	"sync"

	"github.com/skeinhq/skein/internal/bus"
)

// Category is the triage taxonomy agents declare themselves for.
type Category string

const (
	CategoryBilling    Category = "billing"
	CategorySupport    Category = "support"
	CategorySales      Category = "sales"
	CategoryTechnical  Category = "technical"
	CategoryRefund     Category = "refund"
	CategoryGeneral    Category = "general"
	CategoryEscalation Category = "escalation"
	CategoryUnknown    Category = "unknown"
)

// AgentHandler receives the filtered conversation and the accumulated
// state and produces the agent's response.
type AgentHandler func(ctx context.Context, messages []Message, state map[string]any) (map[string]any, error)

// Agent is one routing target.
type Agent struct {
	Name         string       `yaml:"name" json:"name"`
	Description  string       `yaml:"description" json:"description,omitempty"`
	Capabilities []string     `yaml:"capabilities" json:"capabilities,omitempty"`
	Categories   []Category   `yaml:"categories" json:"categories,omitempty"`
	Keywords     []string     `yaml:"keywords" json:"keywords,omitempty"`
	Priority     int          `yaml:"priority" json:"priority,omitempty"`
	Handler      AgentHandler `yaml:"-" json:"-"`
}

func (a *Agent) hasCategory(c Category) bool {
	for _, ac := range a.Categories {
		if ac == c {
			return true
		}
	}
	return false
}

// AgentStatus tracks availability for acquisition.
type AgentStatus string

const (
	AgentAvailable AgentStatus = "available"
	AgentBusy      AgentStatus = "busy"
)

// AgentRegistry is an insertion-ordered agent directory with a simple
// acquire/release availability model.
type AgentRegistry struct {
	mu     sync.RWMutex
	order  []string
	agents map[string]*Agent
	status map[string]AgentStatus
	events *bus.Bus
}

func NewAgentRegistry(events *bus.Bus) *AgentRegistry {
	return &AgentRegistry{
		agents: make(map[string]*Agent),
		status: make(map[string]AgentStatus),
		events: events,
	}
}

func (r *AgentRegistry) Register(a *Agent) error {
	if a == nil || a.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[a.Name]; exists {
		return fmt.Errorf("agent %s already registered", a.Name)
	}
	r.agents[a.Name] = a
	r.status[a.Name] = AgentAvailable
	r.order = append(r.order, a.Name)
	r.emit(bus.EventAgentRegistered, a.Name)
	return nil
}

func (r *AgentRegistry) Unregister(name string) {
	r.mu.Lock()
	if _, exists := r.agents[name]; !exists {
		r.mu.Unlock()
		return
	}
	delete(r.agents, name)
	delete(r.status, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	r.emit(bus.EventAgentUnregistered, name)
}

func (r *AgentRegistry) Get(name string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// List returns agents in registration order.
func (r *AgentRegistry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.agents[name])
	}
	return out
}

func (r *AgentRegistry) Status(name string) (AgentStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.status[name]
	return st, ok
}

// Acquire marks an available agent busy. It fails when the agent is
// unknown or already held.
func (r *AgentRegistry) Acquire(name string) error {
	r.mu.Lock()
	st, ok := r.status[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("agent %s not registered", name)
	}
	if st == AgentBusy {
		r.mu.Unlock()
		return fmt.Errorf("agent %s is busy", name)
	}
	r.status[name] = AgentBusy
	r.mu.Unlock()
	r.emit(bus.EventAgentAcquired, name)
	r.emit(bus.EventAgentStatusChanged, name)
	return nil
}

// Release returns an agent to the available pool.
func (r *AgentRegistry) Release(name string) {
	r.mu.Lock()
	if _, ok := r.status[name]; !ok {
		r.mu.Unlock()
		return
	}
	r.status[name] = AgentAvailable
	r.mu.Unlock()
	r.emit(bus.EventAgentReleased, name)
	r.emit(bus.EventAgentStatusChanged, name)
}

func (r *AgentRegistry) emit(name, agent string) {
	if r.events == nil {
		return
	}
	r.events.Emit(name, "", map[string]any{"agent": agent})
}
