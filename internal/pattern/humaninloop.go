package pattern

import (
	"context"
	"fmt"

	"github.com/skeinhq/skein/internal/bus"
	"github.com/skeinhq/skein/internal/core"
	"github.com/skeinhq/skein/internal/skill"
)

// HumanStep is one unit of a human-in-the-loop run. When Question is set,
// the gate is consulted after the skill completes and a rejection aborts
// the remaining steps.
type HumanStep struct {
	Skill    string         `yaml:"skill" json:"skill"`
	Input    map[string]any `yaml:"input" json:"input"`
	Question string         `yaml:"question,omitempty" json:"question,omitempty"`
}

type HumanInLoopConfig struct {
	Steps []HumanStep `yaml:"steps" json:"steps"`
}

// HumanInLoop executes steps sequentially, pausing at gated steps for an
// approval decision. A nil gate auto-approves.
type HumanInLoop struct {
	executor *skill.Executor
	events   *bus.Bus
	gate     HumanGate
	cfg      HumanInLoopConfig
}

func NewHumanInLoop(executor *skill.Executor, events *bus.Bus, gate HumanGate, cfg HumanInLoopConfig) *HumanInLoop {
	return &HumanInLoop{executor: executor, events: events, gate: gate, cfg: cfg}
}

func (h *HumanInLoop) Name() string { return "human-in-loop" }

func (h *HumanInLoop) Execute(ctx context.Context, ectx *core.ExecutionContext) (map[string]any, error) {
	h.emit(bus.EventHumanInLoopStarted, ectx.ID, map[string]any{"steps": len(h.cfg.Steps)})

	accumulated := ectx.Input()
	delete(accumulated, core.CancelKey)
	results := make([]*core.Result, 0, len(h.cfg.Steps))

	for i, step := range h.cfg.Steps {
		if ectx.Cancelled() {
			h.emit(bus.EventHumanInLoopAborted, ectx.ID, map[string]any{"step": i, "reason": "cancelled"})
			return nil, fmt.Errorf("human-in-loop cancelled at step %d", i)
		}
		h.emit(bus.EventHumanInLoopStepStarted, ectx.ID, map[string]any{"step": i, "skill": step.Skill})

		input := make(map[string]any, len(accumulated)+len(step.Input))
		for k, v := range accumulated {
			input[k] = v
		}
		for k, v := range step.Input {
			input[k] = v
		}

		res, err := h.executor.Execute(ctx, step.Skill, input, &skill.ExecOptions{Parent: ectx})
		if err != nil {
			return nil, err
		}
		results = append(results, res)
		if !res.Success() {
			h.emit(bus.EventHumanInLoopStepFailed, ectx.ID, map[string]any{
				"step":  i,
				"skill": step.Skill,
				"error": res.Error,
			})
			return nil, fmt.Errorf("step %d (%s) failed: %s", i, step.Skill, res.Error)
		}
		for k, v := range res.Output {
			accumulated[k] = v
		}
		h.emit(bus.EventHumanInLoopStepCompleted, ectx.ID, map[string]any{"step": i, "skill": step.Skill})

		if step.Question == "" {
			continue
		}
		h.emit(bus.EventHumanInLoopGateReached, ectx.ID, map[string]any{"step": i, "question": step.Question})
		resp := GateResponse{Approved: true}
		if h.gate != nil {
			resp, err = h.gate.Request(ctx, step.Question, accumulated)
			if err != nil {
				return nil, fmt.Errorf("gate request at step %d: %w", i, err)
			}
		}
		if !resp.Approved {
			h.emit(bus.EventHumanInLoopAborted, ectx.ID, map[string]any{
				"step":     i,
				"feedback": resp.Feedback,
			})
			return nil, fmt.Errorf("rejected at step %d: %s", i, resp.Feedback)
		}
	}

	h.emit(bus.EventHumanInLoopCompleted, ectx.ID, map[string]any{"steps": len(h.cfg.Steps)})
	return map[string]any{
		"output":  accumulated,
		"results": results,
		"summary": map[string]any{"total": len(h.cfg.Steps), "completed": len(results)},
	}, nil
}

func (h *HumanInLoop) emit(name, contextID string, payload map[string]any) {
	if h.events == nil {
		return
	}
	h.events.Emit(name, contextID, payload)
}
