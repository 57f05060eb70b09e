package skill

import (
	"fmt"
	"sync"
	"time"

	"github.com/skeinhq/skein/internal/bus"
)

// Metrics is the registry's running tally for one skill.
type Metrics struct {
	Executions    int           `json:"executions"`
	Successes     int           `json:"successes"`
	Failures      int           `json:"failures"`
	TotalDuration time.Duration `json:"total_duration"`
}

// AverageDuration returns the mean execution duration, or zero before the
// first execution.
func (m Metrics) AverageDuration() time.Duration {
	if m.Executions == 0 {
		return 0
	}
	return m.TotalDuration / time.Duration(m.Executions)
}

// Registry is an insertion-ordered mapping from skill id to skill. Ids are
// unique; duplicate registration is a programming error.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	skills  map[string]*Skill
	metrics map[string]*Metrics
	events  *bus.Bus
}

func NewRegistry(events *bus.Bus) *Registry {
	return &Registry{
		skills:  make(map[string]*Skill),
		metrics: make(map[string]*Metrics),
		events:  events,
	}
}

// Register adds a skill, rejecting empty and duplicate ids.
func (r *Registry) Register(s *Skill) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("skill id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.skills[s.ID]; exists {
		return fmt.Errorf("skill %s already registered", s.ID)
	}
	r.skills[s.ID] = s
	r.order = append(r.order, s.ID)
	r.metrics[s.ID] = &Metrics{}
	r.emit(bus.EventSkillBound, s.ID)
	return nil
}

// Unregister removes the skill if present.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.skills[id]; !exists {
		return
	}
	delete(r.skills, id)
	delete(r.metrics, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.emit(bus.EventSkillUnbound, id)
}

// Bind attaches a handler to an already-registered skill, typically one
// loaded from a template file.
func (r *Registry) Bind(id string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, exists := r.skills[id]
	if !exists {
		return fmt.Errorf("skill %s not registered", id)
	}
	s.Handler = h
	r.emit(bus.EventSkillBound, id)
	return nil
}

func (r *Registry) Get(id string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[id]
	return s, ok
}

// List returns skills in insertion order.
func (r *Registry) List() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Skill, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.skills[id])
	}
	return out
}

func (r *Registry) FindByCategory(category string) []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Skill
	for _, id := range r.order {
		if r.skills[id].Category == category {
			out = append(out, r.skills[id])
		}
	}
	return out
}

func (r *Registry) FindByTag(tag string) []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Skill
	for _, id := range r.order {
		if r.skills[id].HasTag(tag) {
			out = append(out, r.skills[id])
		}
	}
	return out
}

// ResolveDependencies returns a topological ordering of the skill's
// dependency closure with the argument last. A dependency cycle fails with
// an error naming its participants.
func (r *Registry) ResolveDependencies(id string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.skills[id]; !ok {
		return nil, fmt.Errorf("skill %s not registered", id)
	}

	// DFS coloring: white 0, gray 1, black 2. A gray hit is a back edge.
	colors := make(map[string]int)
	var order []string
	var stack []string

	var visit func(cur string) error
	visit = func(cur string) error {
		s, ok := r.skills[cur]
		if !ok {
			return fmt.Errorf("skill %s depends on unknown skill %s", id, cur)
		}
		colors[cur] = 1
		stack = append(stack, cur)
		for _, dep := range s.Dependencies {
			switch colors[dep] {
			case 1:
				// Trim the stack back to the cycle entry point.
				for i, v := range stack {
					if v == dep {
						return fmt.Errorf("dependency cycle detected: %v", stack[i:])
					}
				}
				return fmt.Errorf("dependency cycle detected: %v", stack)
			case 0:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		colors[cur] = 2
		stack = stack[:len(stack)-1]
		order = append(order, cur)
		return nil
	}

	if err := visit(id); err != nil {
		return nil, err
	}
	return order, nil
}

// RecordMetric tallies one execution outcome.
func (r *Registry) RecordMetric(id string, success bool, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.metrics[id]
	if !ok {
		return
	}
	m.Executions++
	m.TotalDuration += d
	if success {
		m.Successes++
	} else {
		m.Failures++
	}
}

// MetricsFor returns a copy of the skill's running metrics.
func (r *Registry) MetricsFor(id string) (Metrics, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metrics[id]
	if !ok {
		return Metrics{}, false
	}
	return *m, true
}

func (r *Registry) emit(name, skillID string) {
	if r.events == nil {
		return
	}
	r.events.Emit(name, "", map[string]any{"skill": skillID})
}
