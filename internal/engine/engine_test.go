package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skeinhq/skein/internal/bus"
	"github.com/skeinhq/skein/internal/core"
	"github.com/skeinhq/skein/internal/pattern"
	"github.com/skeinhq/skein/internal/resilience"
	"github.com/skeinhq/skein/internal/skill"
)

func TestEngineExecutesAutoPattern(t *testing.T) {
	e := New(Options{})
	err := e.RegisterSkill(&skill.Skill{
		ID:       "requirements-analyst",
		Keywords: []string{"requirement"},
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"analysed": true}, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	out, err := e.Execute(context.Background(), "auto", ExecuteRequest{
		Task: "Write requirements for login",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out["selectedSkill"] != "requirements-analyst" {
		t.Fatalf("unexpected routing: %v", out["selectedSkill"])
	}
}

func TestEngineUnknownPatternIsImmediateError(t *testing.T) {
	e := New(Options{})
	if _, err := e.Execute(context.Background(), "nope", ExecuteRequest{}); err == nil {
		t.Fatal("unknown pattern must error")
	}
}

func TestEngineResolveSkill(t *testing.T) {
	e := New(Options{})
	_ = e.RegisterSkillFunc("test-engineer", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return nil, nil
	})
	matches := e.ResolveSkill("run the test suite")
	if len(matches) == 0 || matches[0].SkillID != "test-engineer" {
		t.Fatalf("unexpected matches %v", matches)
	}
}

func TestEngineGetStatus(t *testing.T) {
	e := New(Options{})
	_ = e.RegisterSkillFunc("gen", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return nil, nil
	})
	seq := pattern.NewSequential(e.Executor(), pattern.SequentialConfig{
		Steps: []pattern.SequentialStep{{Skill: "gen"}},
	})
	if err := e.RegisterPattern(seq); err != nil {
		t.Fatalf("register pattern: %v", err)
	}

	if _, err := e.Execute(context.Background(), "sequential", ExecuteRequest{Task: "one"}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	st := e.GetStatus()
	if len(st.Patterns) != 2 {
		t.Fatalf("expected auto and sequential, got %v", st.Patterns)
	}
	if len(st.Skills) != 1 || st.Skills[0] != "gen" {
		t.Fatalf("unexpected skills %v", st.Skills)
	}
	if len(st.Contexts) != 1 || st.Contexts[0].Status != core.StatusCompleted {
		t.Fatalf("unexpected contexts %v", st.Contexts)
	}
}

func TestEngineCancelStopsHandler(t *testing.T) {
	e := New(Options{})
	started := make(chan string, 1)
	var finished atomic.Bool
	_ = e.RegisterSkillFunc("patient", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		cancel, _ := input[core.CancelKey].(<-chan struct{})
		select {
		case <-cancel:
			return nil, nil
		case <-time.After(2 * time.Second):
			finished.Store(true)
			return map[string]any{}, nil
		}
	})

	var ctxID atomic.Value
	e.On(bus.EventExecutionStarted, func(ev bus.Event) {
		ctxID.Store(ev.ContextID)
		started <- ev.ContextID
	})

	done := make(chan *core.Result, 1)
	go func() {
		res, _ := e.ExecuteSkill(context.Background(), "patient", nil, nil)
		done <- res
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("execution never started")
	}
	if !e.Cancel(ctxID.Load().(string)) {
		t.Fatal("cancel did not find the context")
	}

	select {
	case res := <-done:
		if res.Status != core.StatusCancelled {
			t.Fatalf("expected cancelled, got %s", res.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled execution did not settle")
	}
	if finished.Load() {
		t.Fatal("handler ran to completion despite cancellation")
	}
}

func TestEngineBreakerStateChangeEvents(t *testing.T) {
	e := New(Options{})
	var changes atomic.Int32
	e.On(bus.EventStateChange, func(ev bus.Event) { changes.Add(1) })

	br := e.Breakers().Get("downstream")
	for i := 0; i < 5; i++ {
		_ = br.Execute(context.Background(), func(ctx context.Context) error {
			return context.DeadlineExceeded
		})
	}

	deadline := time.Now().Add(time.Second)
	for changes.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no state-change event after the breaker opened")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDefaultEngineLifecycle(t *testing.T) {
	first := Default()
	if first != Default() {
		t.Fatal("default engine must be a singleton")
	}
	ShutdownDefault()
	if first == Default() {
		t.Fatal("shutdown must discard the default instance")
	}
	ShutdownDefault()
}

func TestEngineBreakerGatesSkillExecution(t *testing.T) {
	e := New(Options{Breakers: resilience.BreakerConfig{
		FailureThreshold: 3,
		Timeout:          time.Minute,
	}})

	var calls atomic.Int32
	_ = e.RegisterSkillFunc("down", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		calls.Add(1)
		return nil, context.DeadlineExceeded
	})

	for i := 0; i < 10; i++ {
		if _, err := e.ExecuteSkill(context.Background(), "down", nil, nil); err != nil {
			t.Fatal(err)
		}
	}

	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 handler calls before the breaker opened, got %d", got)
	}

	snaps := e.Breakers().Snapshots()
	if len(snaps) != 1 {
		t.Fatalf("expected one tracked breaker, got %d", len(snaps))
	}
	if snaps[0].Name != "down" || snaps[0].State != resilience.StateOpen {
		t.Fatalf("unexpected breaker state: %+v", snaps[0])
	}
}

func TestEngineDegradationServesFallback(t *testing.T) {
	e := New(Options{})
	e.Degradation().RegisterFallback("quote", func(ctx context.Context) (any, error) {
		return map[string]any{"quote": "cached wisdom"}, nil
	}, time.Minute)

	_ = e.RegisterSkillFunc("quote", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return nil, context.DeadlineExceeded
	})

	res, err := e.ExecuteSkill(context.Background(), "quote", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success() || res.Output["quote"] != "cached wisdom" {
		t.Fatalf("expected fallback output, got %+v", res)
	}
	if !e.Degradation().Degraded("quote") {
		t.Fatal("fallback service not marked degraded")
	}
}

func TestExecuteHonorsCallerRunID(t *testing.T) {
	e := New(Options{})
	_ = e.RegisterSkill(&skill.Skill{
		ID:       "requirements-analyst",
		Keywords: []string{"requirement"},
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"done": true}, nil
		},
	})

	var rootEvents atomic.Int32
	e.Events().SubscribeAll(func(ev bus.Event) {
		if ev.ContextID == "run-42" {
			rootEvents.Add(1)
		}
	})

	_, err := e.Execute(context.Background(), "auto", ExecuteRequest{
		ID:   "run-42",
		Task: "Write requirements for login",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if rootEvents.Load() == 0 {
		t.Fatal("no events keyed under the caller-supplied run id")
	}

	found := false
	for _, snap := range e.GetStatus().Contexts {
		if snap.ID == "run-42" {
			found = true
		}
	}
	if !found {
		t.Fatal("root context not tracked under the caller-supplied id")
	}
}
