package skill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skeinhq/skein/internal/bus"
	"github.com/skeinhq/skein/internal/core"
	"github.com/skeinhq/skein/internal/resilience"
)

// DefaultMaxConcurrent is the executor's handler concurrency bound.
const DefaultMaxConcurrent = 10

// DefaultTimeout applies when neither options nor skill declare one.
const DefaultTimeout = 60 * time.Second

// InputExpander rewrites an input map before handler invocation. The vault
// installs one to resolve secret: references.
type InputExpander func(input map[string]any) map[string]any

// ExecOptions tunes a single execution.
type ExecOptions struct {
	Timeout     time.Duration
	RetryPolicy *resilience.RetryPolicy
	Parent      *core.ExecutionContext
	Priority    core.Priority
	// Permissions is the invoking agent's grant set. Nil means an
	// unattributed caller; permission checks then only apply to skills
	// that declare requirements.
	Permissions []string
	Metadata    map[string]any
}

// Executor runs skills under a concurrency bound with validation,
// guardrails, timeout races, and retry.
type Executor struct {
	registry    *Registry
	events      *bus.Bus
	classifier  *resilience.Classifier
	breakers    *resilience.BreakerSet
	degradation *resilience.Degradation
	sem         chan struct{}
	timeout     time.Duration
	expand      InputExpander

	mu         sync.RWMutex
	guardrails []Guardrail
	active     map[string]*core.ExecutionContext
}

func NewExecutor(registry *Registry, events *bus.Bus, classifier *resilience.Classifier, maxConcurrent int) *Executor {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if classifier == nil {
		classifier = resilience.NewClassifier()
	}
	return &Executor{
		registry:   registry,
		events:     events,
		classifier: classifier,
		sem:        make(chan struct{}, maxConcurrent),
		timeout:    DefaultTimeout,
		active:     make(map[string]*core.ExecutionContext),
	}
}

// SetDefaultTimeout overrides the executor-level timeout.
func (e *Executor) SetDefaultTimeout(d time.Duration) {
	if d > 0 {
		e.timeout = d
	}
}

// SetInputExpander installs the pre-invocation input rewriter.
func (e *Executor) SetInputExpander(fn InputExpander) { e.expand = fn }

// SetBreakers routes every handler invocation through a per-skill circuit
// breaker. An open breaker fails the attempt before the handler runs.
func (e *Executor) SetBreakers(set *resilience.BreakerSet) { e.breakers = set }

// SetDegradation serves cached or fallback output for skills with a
// registered fallback when the protected invocation fails.
func (e *Executor) SetDegradation(d *resilience.Degradation) { e.degradation = d }

// AddGuardrail appends a guardrail; rails run in registration order.
func (e *Executor) AddGuardrail(g Guardrail) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.guardrails = append(e.guardrails, g)
}

// Active returns the contexts of in-flight executions.
func (e *Executor) Active() []*core.ExecutionContext {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*core.ExecutionContext, 0, len(e.active))
	for _, c := range e.active {
		out = append(out, c)
	}
	return out
}

// ActiveCount returns the number of in-flight executions.
func (e *Executor) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.active)
}

// Cancel cancels the in-flight execution with the given context id.
func (e *Executor) Cancel(id string) bool {
	e.mu.RLock()
	ectx, ok := e.active[id]
	e.mu.RUnlock()
	if ok {
		ectx.Cancel()
	}
	return ok
}

// nonRetryable holds message fragments that are never retried regardless
// of category: cancellation, validation, and guardrail vetoes.
var nonRetryable = []string{"cancel", "validation", "Guardrail"}

func retryDenied(err error) bool {
	msg := err.Error()
	for _, deny := range nonRetryable {
		if strings.Contains(msg, deny) {
			return true
		}
	}
	return false
}

// Execute runs one skill to a terminal result. The returned error is
// reserved for programming mistakes (unknown skill, unbound handler);
// handler failures surface in the result.
func (e *Executor) Execute(ctx context.Context, skillID string, input map[string]any, opts *ExecOptions) (*core.Result, error) {
	if opts == nil {
		opts = &ExecOptions{}
	}
	s, ok := e.registry.Get(skillID)
	if !ok {
		return nil, fmt.Errorf("skill %s not registered", skillID)
	}
	if s.Handler == nil {
		return nil, fmt.Errorf("skill %s has no handler bound", skillID)
	}

	ectx := core.NewContext("", "")
	ectx.SetSkill(skillID)
	ectx.SetInput(input)
	if opts.Priority != "" {
		ectx.SetPriority(opts.Priority)
	}
	if opts.Parent != nil {
		opts.Parent.AddChild(ectx)
	}

	e.mu.Lock()
	e.active[ectx.ID] = ectx
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, ectx.ID)
		e.mu.Unlock()
	}()

	// Wait for a handler slot, yielding to cancellation.
	select {
	case e.sem <- struct{}{}:
	case <-ectx.Done():
		return e.cancelledResult(ectx, skillID, time.Now(), 0), nil
	case <-ctx.Done():
		ectx.Cancel()
		return e.cancelledResult(ectx, skillID, time.Now(), 0), nil
	}
	defer func() { <-e.sem }()

	start := time.Now()
	_ = ectx.Start()
	e.emit(bus.EventExecutionStarted, ectx.ID, map[string]any{"skill": skillID})

	policy := e.resolvePolicy(s, opts)
	timeout := e.resolveTimeout(s, opts)
	delay := policy.Backoff

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		// Cancellation observed between attempts terminates the run.
		if ectx.Cancelled() || ctx.Err() != nil {
			res := e.cancelledResult(ectx, skillID, start, attempts)
			e.registry.RecordMetric(skillID, false, res.Duration)
			return res, nil
		}

		attempts++
		lastErr = e.attempt(ctx, s, ectx, timeout, opts)
		if lastErr == nil {
			output, _ := ectx.Output().(map[string]any)
			res := &core.Result{
				SkillID:   skillID,
				Status:    core.StatusCompleted,
				Output:    output,
				StartTime: start,
				EndTime:   time.Now(),
				Attempts:  attempts,
				Metadata:  opts.Metadata,
			}
			res.Duration = res.EndTime.Sub(res.StartTime)
			e.registry.RecordMetric(skillID, true, res.Duration)
			e.emit(bus.EventExecutionCompleted, ectx.ID, map[string]any{
				"skill":    skillID,
				"attempts": attempts,
				"duration": res.Duration.Milliseconds(),
			})
			return res, nil
		}

		// Breaker rejections surface without a retry loop; the
		// degradation layer is the recovery site for those.
		if errors.Is(lastErr, resilience.ErrBreakerOpen) || errors.Is(lastErr, resilience.ErrHalfOpenSaturated) {
			break
		}
		if attempt == policy.MaxRetries || retryDenied(lastErr) || !e.classifier.Classify(lastErr).Retryable {
			break
		}

		e.emit(bus.EventRetry, ectx.ID, map[string]any{
			"attempt":  attempts,
			"delay_ms": delay.Milliseconds(),
		})
		e.emit(bus.EventExecutionRetry, ectx.ID, map[string]any{
			"skill":    skillID,
			"attempt":  attempts,
			"delay_ms": delay.Milliseconds(),
		})
		select {
		case <-time.After(delay):
		case <-ectx.Done():
		case <-ctx.Done():
		}
		delay = time.Duration(float64(delay) * policy.BackoffMultiplier)
	}

	if ectx.Cancelled() || ctx.Err() != nil {
		res := e.cancelledResult(ectx, skillID, start, attempts)
		e.registry.RecordMetric(skillID, false, res.Duration)
		return res, nil
	}

	enhanced := e.classifier.Enhance(lastErr, map[string]any{"skill": skillID})
	_ = ectx.Fail(enhanced)
	status := core.StatusFailed
	if enhanced.Category == resilience.CategoryTimeout {
		status = core.StatusTimeout
	}
	res := &core.Result{
		SkillID:   skillID,
		Status:    status,
		Error:     enhanced.Error(),
		StartTime: start,
		EndTime:   time.Now(),
		Attempts:  attempts,
		Metadata:  opts.Metadata,
	}
	res.Duration = res.EndTime.Sub(res.StartTime)
	e.registry.RecordMetric(skillID, false, res.Duration)
	e.emit(bus.EventExecutionFailed, ectx.ID, map[string]any{
		"skill":    skillID,
		"error":    enhanced.Error(),
		"category": string(enhanced.Category),
		"attempts": attempts,
	})
	return res, nil
}

// attempt runs one validation/guardrail/handler/timeout cycle.
func (e *Executor) attempt(ctx context.Context, s *Skill, ectx *core.ExecutionContext, timeout time.Duration, opts *ExecOptions) error {
	if err := e.checkPermissions(s, opts); err != nil {
		return err
	}

	input := ectx.Input()
	if e.expand != nil {
		input = e.expand(input)
	}

	if err := Validate(s.InputSchema, input); err != nil {
		return err
	}

	e.mu.RLock()
	rails := make([]Guardrail, len(e.guardrails))
	copy(rails, e.guardrails)
	e.mu.RUnlock()

	checkData := CheckData{SkillID: s.ID, Input: input, Context: opts.Metadata}
	if err := runGuardrails(rails, PhasePre, checkData); err != nil {
		return err
	}

	output, err := e.invokeProtected(ctx, s, ectx, input, timeout)
	if err != nil {
		return err
	}

	if err := Validate(s.OutputSchema, output); err != nil {
		return fmt.Errorf("output %s", err.Error())
	}

	checkData.Output = output
	if err := runGuardrails(rails, PhasePost, checkData); err != nil {
		return err
	}

	return ectx.Complete(output)
}

// invokeProtected runs the handler under the error substrate: the
// per-skill circuit breaker admits or rejects the call, and when a
// fallback is registered the degradation chain substitutes cached or
// fallback output for a failed invocation.
func (e *Executor) invokeProtected(ctx context.Context, s *Skill, ectx *core.ExecutionContext, input map[string]any, timeout time.Duration) (map[string]any, error) {
	var output map[string]any
	call := func(ctx context.Context) error {
		out, err := e.invoke(ctx, s, ectx, input, timeout)
		if err != nil {
			return err
		}
		output = out
		return nil
	}

	protected := call
	if e.breakers != nil {
		breaker := e.breakers.Get(s.ID)
		protected = func(ctx context.Context) error { return breaker.Execute(ctx, call) }
	}

	if e.degradation != nil && e.degradation.HasFallback(s.ID) {
		value, err := e.degradation.Execute(ctx, s.ID, func(ctx context.Context) (any, error) {
			if err := protected(ctx); err != nil {
				return nil, err
			}
			return output, nil
		})
		if err != nil {
			return nil, err
		}
		if out, ok := value.(map[string]any); ok {
			return out, nil
		}
		return map[string]any{"value": value}, nil
	}

	if err := protected(ctx); err != nil {
		return nil, err
	}
	return output, nil
}

// invoke races the handler against the timeout timer and the abort
// signals. A tie between handler and timer resolves to the timer.
func (e *Executor) invoke(ctx context.Context, s *Skill, ectx *core.ExecutionContext, input map[string]any, timeout time.Duration) (map[string]any, error) {
	type outcome struct {
		output map[string]any
		err    error
	}
	resultCh := make(chan outcome, 1)
	deadline := time.Now().Add(timeout)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: fmt.Errorf("internal error: handler panic: %v", r)}
			}
		}()
		out, err := s.Handler(ctx, input)
		resultCh <- outcome{output: out, err: err}
	}()

	select {
	case res := <-resultCh:
		if !time.Now().Before(deadline) {
			return nil, e.timeoutErr(s.ID, timeout)
		}
		return res.output, res.err
	case <-time.After(timeout):
		return nil, e.timeoutErr(s.ID, timeout)
	case <-ectx.Done():
		return nil, fmt.Errorf("execution cancelled")
	case <-ctx.Done():
		return nil, fmt.Errorf("execution cancelled: %v", ctx.Err())
	}
}

func (e *Executor) timeoutErr(skillID string, timeout time.Duration) error {
	return fmt.Errorf("skill %s timed out after %s", skillID, timeout)
}

func (e *Executor) checkPermissions(s *Skill, opts *ExecOptions) error {
	if len(s.Permissions) == 0 || opts.Permissions == nil {
		return nil
	}
	granted := make(map[string]bool, len(opts.Permissions))
	for _, p := range opts.Permissions {
		granted[p] = true
	}
	for _, req := range s.Permissions {
		if !granted[req] {
			return fmt.Errorf("permission denied: skill %s requires %s", s.ID, req)
		}
	}
	return nil
}

func (e *Executor) resolvePolicy(s *Skill, opts *ExecOptions) resilience.RetryPolicy {
	if opts.RetryPolicy != nil {
		return *opts.RetryPolicy
	}
	if s.RetryPolicy != nil {
		return *s.RetryPolicy
	}
	return resilience.RetryPolicy{MaxRetries: 0, Backoff: 100 * time.Millisecond, BackoffMultiplier: 2}
}

func (e *Executor) resolveTimeout(s *Skill, opts *ExecOptions) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	if s.Timeout > 0 {
		return s.Timeout
	}
	return e.timeout
}

func (e *Executor) cancelledResult(ectx *core.ExecutionContext, skillID string, start time.Time, attempts int) *core.Result {
	ectx.Cancel()
	res := &core.Result{
		SkillID:   skillID,
		Status:    core.StatusCancelled,
		Error:     "execution cancelled",
		StartTime: start,
		EndTime:   time.Now(),
		Attempts:  attempts,
	}
	res.Duration = res.EndTime.Sub(res.StartTime)
	e.emit(bus.EventExecutionCancelled, ectx.ID, map[string]any{"skill": skillID})
	return res
}

func (e *Executor) emit(name, contextID string, payload map[string]any) {
	if e.events == nil {
		return
	}
	e.events.Emit(name, contextID, payload)
}
