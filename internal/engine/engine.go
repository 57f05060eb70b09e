// Package engine is the orchestration façade: one place to register
// skills and patterns, execute them, observe events, and cancel work.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/skeinhq/skein/internal/bus"
	"github.com/skeinhq/skein/internal/core"
	"github.com/skeinhq/skein/internal/pattern"
	"github.com/skeinhq/skein/internal/resilience"
	"github.com/skeinhq/skein/internal/skill"
)

// Options tunes a new engine. Zero values fall back to defaults.
type Options struct {
	MaxConcurrent int
	MaxErrors     int
	Auto          pattern.AutoConfig
	Breakers      resilience.BreakerConfig
	HumanGate     pattern.HumanGate
}

// Engine wires the registries, the executor, the dispatcher, and the
// error substrate behind one API. Handler errors never escape it; only
// programmer errors (unknown pattern or skill, duplicate registration)
// return from its methods.
type Engine struct {
	events      *bus.Bus
	registry    *skill.Registry
	executor    *skill.Executor
	dispatcher  *pattern.Dispatcher
	classifier  *resilience.Classifier
	breakers    *resilience.BreakerSet
	degradation *resilience.Degradation
	aggregator  *resilience.Aggregator
	auto        *pattern.Auto
	gate        pattern.HumanGate

	mu    sync.RWMutex
	roots map[string]*core.ExecutionContext
}

func New(opts Options) *Engine {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = skill.DefaultMaxConcurrent
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = 100
	}
	if opts.Breakers.FailureThreshold <= 0 {
		opts.Breakers = resilience.DefaultBreakerConfig()
	}

	events := bus.New()
	classifier := resilience.NewClassifier()
	registry := skill.NewRegistry(events)
	executor := skill.NewExecutor(registry, events, classifier, opts.MaxConcurrent)
	dispatcher := pattern.NewDispatcher()

	e := &Engine{
		events:      events,
		registry:    registry,
		executor:    executor,
		dispatcher:  dispatcher,
		classifier:  classifier,
		degradation: resilience.NewDegradation(),
		aggregator:  resilience.NewAggregator(opts.MaxErrors),
		gate:        opts.HumanGate,
		roots:       make(map[string]*core.ExecutionContext),
	}
	e.breakers = resilience.NewBreakerSet(opts.Breakers, func(sc resilience.StateChange) {
		events.Emit(bus.EventStateChange, "", map[string]any{
			"breaker": sc.Name,
			"from":    string(sc.From),
			"to":      string(sc.To),
		})
	})
	executor.SetBreakers(e.breakers)
	executor.SetDegradation(e.degradation)

	e.auto = pattern.NewAuto(registry, executor, events, opts.Auto)
	if err := dispatcher.Register(e.auto); err != nil {
		slog.Error("auto pattern registration failed", "error", err)
	}

	// Failed executions feed the aggregator for reporting.
	events.Subscribe(bus.EventExecutionFailed, func(ev bus.Event) {
		msg, _ := ev.Payload["error"].(string)
		e.aggregator.Record(classifier.Enhance(fmt.Errorf("%s", msg), map[string]any{
			"context": ev.ContextID,
		}))
	})

	return e
}

// RegisterSkill adds a full skill definition.
func (e *Engine) RegisterSkill(s *skill.Skill) error { return e.registry.Register(s) }

// RegisterSkillFunc adds a bare handler under an id with open schemas.
func (e *Engine) RegisterSkillFunc(id string, h skill.Handler) error {
	return e.registry.Register(&skill.Skill{ID: id, Handler: h})
}

// RegisterPattern adds a pattern under its name.
func (e *Engine) RegisterPattern(p pattern.Pattern) error { return e.dispatcher.Register(p) }

// ExecuteRequest shapes one pattern invocation. ID, when set, becomes the
// root context id, so callers that persist a run record can key archived
// events under the same id. Ignored for child executions.
type ExecuteRequest struct {
	ID       string
	Task     string
	Input    map[string]any
	ParentID string
}

// Execute runs a named pattern in a fresh execution context. The context
// becomes a child when ParentID names a live context, otherwise a tracked
// root.
func (e *Engine) Execute(ctx context.Context, patternName string, req ExecuteRequest) (map[string]any, error) {
	if _, ok := e.dispatcher.Get(patternName); !ok {
		return nil, fmt.Errorf("pattern %s not registered", patternName)
	}

	ectx := e.newContext(req)
	_ = ectx.Start()

	out, err := e.dispatcher.Execute(ctx, patternName, ectx)
	if err != nil {
		_ = ectx.Fail(err)
		e.aggregator.Record(e.classifier.Enhance(err, map[string]any{"pattern": patternName}))
		return nil, err
	}
	_ = ectx.Complete(out)
	return out, nil
}

// ExecuteSkill runs one skill directly through the executor.
func (e *Engine) ExecuteSkill(ctx context.Context, id string, input map[string]any, parent *core.ExecutionContext) (*core.Result, error) {
	return e.executor.Execute(ctx, id, input, &skill.ExecOptions{Parent: parent})
}

// ResolveSkill scores registered skills against a free-text task.
func (e *Engine) ResolveSkill(task string) []pattern.Match {
	return e.auto.Matches(task)
}

// On subscribes to a named engine event and returns an unsubscribe
// function.
func (e *Engine) On(name string, fn bus.Handler) func() {
	return e.events.Subscribe(name, fn)
}

// Cancel cancels the context with the given id, wherever it sits in the
// tree. It reports whether a context was found.
func (e *Engine) Cancel(id string) bool {
	if e.executor.Cancel(id) {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, root := range e.roots {
		if found := findContext(root, id); found != nil {
			found.Cancel()
			return true
		}
	}
	return false
}

// CancelAll cancels every tracked root depth-first.
func (e *Engine) CancelAll() {
	e.mu.RLock()
	roots := make([]*core.ExecutionContext, 0, len(e.roots))
	for _, root := range e.roots {
		roots = append(roots, root)
	}
	e.mu.RUnlock()
	for _, root := range roots {
		root.Cancel()
	}
}

// Status is the engine introspection view.
type Status struct {
	Patterns         []string        `json:"patterns"`
	Skills           []string        `json:"skills"`
	ActiveExecutions int             `json:"active_executions"`
	Contexts         []core.Snapshot `json:"contexts"`
}

func (e *Engine) GetStatus() Status {
	skills := e.registry.List()
	ids := make([]string, len(skills))
	for i, s := range skills {
		ids[i] = s.ID
	}

	e.mu.RLock()
	contexts := make([]core.Snapshot, 0, len(e.roots))
	for _, root := range e.roots {
		contexts = append(contexts, root.Snapshot())
	}
	e.mu.RUnlock()

	return Status{
		Patterns:         e.dispatcher.Names(),
		Skills:           ids,
		ActiveExecutions: e.executor.ActiveCount(),
		Contexts:         contexts,
	}
}

// Shutdown cancels all work. The engine stays usable afterwards; a
// process-lifetime default instance calls this on teardown.
func (e *Engine) Shutdown() {
	e.CancelAll()
}

// Accessors for collaborators that outer surfaces (CLI, web inspector,
// bridges) wire against.
func (e *Engine) Events() *bus.Bus                     { return e.events }
func (e *Engine) Registry() *skill.Registry            { return e.registry }
func (e *Engine) Executor() *skill.Executor            { return e.executor }
func (e *Engine) Dispatcher() *pattern.Dispatcher      { return e.dispatcher }
func (e *Engine) Classifier() *resilience.Classifier   { return e.classifier }
func (e *Engine) Breakers() *resilience.BreakerSet     { return e.breakers }
func (e *Engine) Degradation() *resilience.Degradation { return e.degradation }
func (e *Engine) Aggregator() *resilience.Aggregator   { return e.aggregator }
func (e *Engine) HumanGate() pattern.HumanGate         { return e.gate }

func (e *Engine) newContext(req ExecuteRequest) *core.ExecutionContext {
	if req.ParentID != "" {
		e.mu.RLock()
		for _, root := range e.roots {
			if parent := findContext(root, req.ParentID); parent != nil {
				e.mu.RUnlock()
				child := parent.Child(req.Task)
				child.SetInput(req.Input)
				return child
			}
		}
		e.mu.RUnlock()
	}

	ectx := core.NewContext(req.Task, "")
	if req.ID != "" {
		ectx.ID = req.ID
	}
	ectx.SetInput(req.Input)
	e.mu.Lock()
	e.roots[ectx.ID] = ectx
	e.mu.Unlock()
	return ectx
}

func findContext(root *core.ExecutionContext, id string) *core.ExecutionContext {
	if root.ID == id {
		return root
	}
	for _, child := range root.Children() {
		if found := findContext(child, id); found != nil {
			return found
		}
	}
	return nil
}

var (
	defaultMu     sync.Mutex
	defaultEngine *Engine
)

// Default returns the lazily created process-wide engine.
func Default() *Engine {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultEngine == nil {
		defaultEngine = New(Options{})
	}
	return defaultEngine
}

// ShutdownDefault tears the default engine down; the next Default call
// creates a fresh one.
func ShutdownDefault() {
	defaultMu.Lock()
	e := defaultEngine
	defaultEngine = nil
	defaultMu.Unlock()
	if e != nil {
		e.Shutdown()
	}
}
