// Package workflow executes a declarative step tree over the executor and
// the pattern dispatcher, with checkpoints and human approval gates.
package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/skeinhq/skein/internal/bus"
	"github.com/skeinhq/skein/internal/core"
	"github.com/skeinhq/skein/internal/pattern"
	"github.com/skeinhq/skein/internal/skill"
)

// StepType tags the closed set of step variants.
type StepType string

const (
	StepSkill       StepType = "SKILL"
	StepPattern     StepType = "PATTERN"
	StepParallel    StepType = "PARALLEL"
	StepConditional StepType = "CONDITIONAL"
	StepCheckpoint  StepType = "CHECKPOINT"
	StepHumanGate   StepType = "HUMAN_GATE"
)

// Predicate evaluates a conditional step against the accumulated context.
type Predicate func(state map[string]any) bool

// Step is one node of the workflow tree. Only the fields of its Type are
// consulted.
type Step struct {
	Type StepType `yaml:"type" json:"type"`

	// SKILL
	Skill string         `yaml:"skill,omitempty" json:"skill,omitempty"`
	Input map[string]any `yaml:"input,omitempty" json:"input,omitempty"`

	// PATTERN
	Pattern string         `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Config  map[string]any `yaml:"config,omitempty" json:"config,omitempty"`

	// PARALLEL
	Steps []Step `yaml:"steps,omitempty" json:"steps,omitempty"`

	// CONDITIONAL
	Predicate Predicate `yaml:"-" json:"-"`
	Then      []Step    `yaml:"then,omitempty" json:"then,omitempty"`
	Else      []Step    `yaml:"else,omitempty" json:"else,omitempty"`

	// CHECKPOINT
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// HUMAN_GATE
	Question string `yaml:"question,omitempty" json:"question,omitempty"`
}

// CheckpointStore is the injected put-only checkpoint sink.
type CheckpointStore interface {
	Put(workflowID string, state map[string]any) error
}

// OnError selects the failure policy for a workflow.
type OnError string

const (
	OnErrorStop     OnError = "stop"
	OnErrorContinue OnError = "continue"
)

// Config describes one workflow. The zero OnError value stops on the
// first failing step.
type Config struct {
	WorkflowID string  `yaml:"workflow_id" json:"workflow_id"`
	Steps      []Step  `yaml:"steps" json:"steps"`
	OnError    OnError `yaml:"on_error" json:"on_error,omitempty"`
}

// Orchestrator walks a step tree. Checkpoints and the human gate are
// optional collaborators; a nil gate auto-approves.
type Orchestrator struct {
	executor    *skill.Executor
	dispatcher  *pattern.Dispatcher
	events      *bus.Bus
	checkpoints CheckpointStore
	gate        pattern.HumanGate
	cfg         Config
}

func New(executor *skill.Executor, dispatcher *pattern.Dispatcher, events *bus.Bus, checkpoints CheckpointStore, gate pattern.HumanGate, cfg Config) *Orchestrator {
	if cfg.OnError == "" {
		cfg.OnError = OnErrorStop
	}
	return &Orchestrator{
		executor:    executor,
		dispatcher:  dispatcher,
		events:      events,
		checkpoints: checkpoints,
		gate:        gate,
		cfg:         cfg,
	}
}

func (o *Orchestrator) Name() string { return "workflow" }

// Execute runs the step list sequentially, merging each step's result
// into the context of subsequent steps under step_<i>_result.
func (o *Orchestrator) Execute(ctx context.Context, ectx *core.ExecutionContext) (map[string]any, error) {
	workflowID := o.cfg.WorkflowID
	if workflowID == "" {
		workflowID = ectx.ID
	}
	o.emit(bus.EventWorkflowStarted, ectx.ID, map[string]any{
		"workflow": workflowID,
		"steps":    len(o.cfg.Steps),
	})

	accumulated := ectx.Input()
	delete(accumulated, core.CancelKey)

	stepResults := make([]any, 0, len(o.cfg.Steps))
	failures := 0

	for i, step := range o.cfg.Steps {
		if ectx.Cancelled() {
			o.emit(bus.EventWorkflowFailed, ectx.ID, map[string]any{"workflow": workflowID, "step": i, "error": "cancelled"})
			return nil, fmt.Errorf("workflow %s cancelled at step %d", workflowID, i)
		}

		o.emit(bus.EventWorkflowStepStarted, ectx.ID, map[string]any{"step": i, "type": string(step.Type)})
		result, err := o.runStep(ctx, ectx, workflowID, i, step, accumulated)
		if err != nil {
			failures++
			stepResults = append(stepResults, map[string]any{"error": err.Error()})
			if o.cfg.OnError == OnErrorContinue {
				continue
			}
			o.emit(bus.EventWorkflowFailed, ectx.ID, map[string]any{
				"workflow": workflowID,
				"step":     i,
				"error":    err.Error(),
			})
			return nil, fmt.Errorf("workflow %s step %d: %w", workflowID, i, err)
		}

		stepResults = append(stepResults, result)
		accumulated[fmt.Sprintf("step_%d_result", i)] = result
		// Skill outputs also merge flat so a SKILL-only workflow matches
		// a sequential run of the same skills.
		if step.Type == StepSkill {
			if out, ok := result.(map[string]any); ok {
				for k, v := range out {
					accumulated[k] = v
				}
			}
		}
		o.emit(bus.EventWorkflowStepCompleted, ectx.ID, map[string]any{"step": i, "type": string(step.Type)})
	}

	o.emit(bus.EventWorkflowCompleted, ectx.ID, map[string]any{
		"workflow": workflowID,
		"steps":    len(o.cfg.Steps),
		"failures": failures,
	})
	return map[string]any{
		"workflowId":  workflowID,
		"stepResults": stepResults,
		"output":      accumulated,
		"summary": map[string]any{
			"total":     len(o.cfg.Steps),
			"completed": len(o.cfg.Steps) - failures,
			"failed":    failures,
		},
	}, nil
}

func (o *Orchestrator) runStep(ctx context.Context, ectx *core.ExecutionContext, workflowID string, index int, step Step, accumulated map[string]any) (any, error) {
	switch step.Type {
	case StepSkill:
		return o.runSkill(ctx, ectx, step, accumulated)
	case StepPattern:
		return o.runPattern(ctx, ectx, step, accumulated)
	case StepParallel:
		return o.runParallel(ctx, ectx, workflowID, index, step, accumulated)
	case StepConditional:
		return o.runConditional(ctx, ectx, workflowID, index, step, accumulated)
	case StepCheckpoint:
		return o.runCheckpoint(workflowID, index, step, accumulated)
	case StepHumanGate:
		return o.runHumanGate(ctx, ectx, step, accumulated)
	}
	return nil, fmt.Errorf("unknown step type %q", step.Type)
}

func (o *Orchestrator) runSkill(ctx context.Context, ectx *core.ExecutionContext, step Step, accumulated map[string]any) (any, error) {
	input := overlay(accumulated, step.Input)
	res, err := o.executor.Execute(ctx, step.Skill, input, &skill.ExecOptions{Parent: ectx})
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return nil, fmt.Errorf("skill %s: %s", step.Skill, res.Error)
	}
	return res.Output, nil
}

func (o *Orchestrator) runPattern(ctx context.Context, ectx *core.ExecutionContext, step Step, accumulated map[string]any) (any, error) {
	child := ectx.Child(step.Pattern)
	child.SetInput(overlay(accumulated, step.Config))
	return o.dispatcher.Execute(ctx, step.Pattern, child)
}

// runParallel executes contained steps concurrently against snapshots of
// the accumulated context and returns results in declaration order.
func (o *Orchestrator) runParallel(ctx context.Context, ectx *core.ExecutionContext, workflowID string, index int, step Step, accumulated map[string]any) (any, error) {
	results := make([]any, len(step.Steps))
	errs := make([]error, len(step.Steps))

	var wg sync.WaitGroup
	for i, sub := range step.Steps {
		wg.Add(1)
		go func(i int, sub Step) {
			defer wg.Done()
			snapshot := overlay(accumulated, nil)
			results[i], errs[i] = o.runStep(ctx, ectx, workflowID, index, sub, snapshot)
		}(i, sub)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("parallel branch %d: %w", i, err)
		}
	}
	return map[string]any{"parallelResults": results}, nil
}

func (o *Orchestrator) runConditional(ctx context.Context, ectx *core.ExecutionContext, workflowID string, index int, step Step, accumulated map[string]any) (any, error) {
	branch := step.Else
	taken := "else"
	if step.Predicate != nil && step.Predicate(accumulated) {
		branch = step.Then
		taken = "then"
	}

	branchResults := make([]any, 0, len(branch))
	for i, sub := range branch {
		result, err := o.runStep(ctx, ectx, workflowID, index, sub, accumulated)
		if err != nil {
			return nil, fmt.Errorf("%s branch step %d: %w", taken, i, err)
		}
		branchResults = append(branchResults, result)
		accumulated[fmt.Sprintf("step_%d_%s_%d_result", index, taken, i)] = result
	}
	return map[string]any{"branch": taken, "results": branchResults}, nil
}

func (o *Orchestrator) runCheckpoint(workflowID string, index int, step Step, accumulated map[string]any) (any, error) {
	if o.checkpoints == nil {
		return map[string]any{"checkpoint": step.Name, "stored": false}, nil
	}
	state := map[string]any{
		"workflowId":         workflowID,
		"stepIndex":          index,
		"name":               step.Name,
		"accumulatedContext": overlay(accumulated, nil),
	}
	if err := o.checkpoints.Put(workflowID, state); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", step.Name, err)
	}
	return map[string]any{"checkpoint": step.Name, "stored": true}, nil
}

func (o *Orchestrator) runHumanGate(ctx context.Context, ectx *core.ExecutionContext, step Step, accumulated map[string]any) (any, error) {
	resp := pattern.GateResponse{Approved: true}
	if o.gate != nil {
		var err error
		resp, err = o.gate.Request(ctx, step.Question, accumulated)
		if err != nil {
			return nil, fmt.Errorf("gate request: %w", err)
		}
	}
	if !resp.Approved {
		return nil, fmt.Errorf("gate rejected: %s", resp.Feedback)
	}
	return map[string]any{"approved": true, "feedback": resp.Feedback}, nil
}

// overlay copies base and lays extra over it.
func overlay(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (o *Orchestrator) emit(name, contextID string, payload map[string]any) {
	if o.events == nil {
		return
	}
	o.events.Emit(name, contextID, payload)
}
