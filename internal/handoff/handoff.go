package handoff

import (
	"context"
	"fmt"
	"time"

	"github.com/skeinhq/skein/internal/bus"
)

// HandoffRecord is one hop appended to the state's handoffChain.
type HandoffRecord struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Request describes a context transfer from one agent to another.
type Request struct {
	SourceAgent  string
	TargetAgents []string
	Filter       Filter
	Reason       string
}

// Handoff transfers a filtered conversation to a target agent and
// invokes its handler.
type Handoff struct {
	registry *AgentRegistry
	events   *bus.Bus
}

func NewHandoff(registry *AgentRegistry, events *bus.Bus) *Handoff {
	return &Handoff{registry: registry, events: events}
}

// Execute selects the first target agent, applies the filter, appends to
// the handoffChain, and runs the target's handler. state is mutated in
// place so chained handoffs accumulate.
func (h *Handoff) Execute(ctx context.Context, req Request, messages []Message, state map[string]any) (map[string]any, error) {
	if len(req.TargetAgents) == 0 {
		return nil, fmt.Errorf("handoff requires at least one target agent")
	}
	// First target wins; multi-target fallback is an extension point.
	target := req.TargetAgents[0]
	agent, ok := h.registry.Get(target)
	if !ok {
		return nil, fmt.Errorf("agent %s not registered", target)
	}
	if agent.Handler == nil {
		return nil, fmt.Errorf("agent %s has no handler bound", target)
	}

	h.emit(bus.EventHandoffStarted, map[string]any{
		"from": req.SourceAgent,
		"to":   target,
	})

	filter := req.Filter
	if filter == nil {
		filter = KeepAll
	}
	view := filter(messages)

	if state == nil {
		state = make(map[string]any)
	}
	chain, _ := state["handoffChain"].([]HandoffRecord)
	chain = append(chain, HandoffRecord{
		From:      req.SourceAgent,
		To:        target,
		Reason:    req.Reason,
		Timestamp: time.Now(),
	})
	state["handoffChain"] = chain

	out, err := agent.Handler(ctx, view, state)
	if err != nil {
		return nil, fmt.Errorf("agent %s handler: %w", target, err)
	}

	h.emit(bus.EventHandoffCompleted, map[string]any{
		"from": req.SourceAgent,
		"to":   target,
	})
	return out, nil
}

func (h *Handoff) emit(name string, payload map[string]any) {
	if h.events == nil {
		return
	}
	h.events.Emit(name, "", payload)
}
