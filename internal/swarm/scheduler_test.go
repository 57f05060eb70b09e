package swarm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skeinhq/skein/internal/bus"
	"github.com/skeinhq/skein/internal/core"
	"github.com/skeinhq/skein/internal/resilience"
	"github.com/skeinhq/skein/internal/skill"
)

func newHarness(t *testing.T) (*skill.Registry, *skill.Executor, *bus.Bus) {
	t.Helper()
	events := bus.New()
	registry := skill.NewRegistry(events)
	executor := skill.NewExecutor(registry, events, resilience.NewClassifier(), 10)
	return registry, executor, events
}

func registerSleeper(t *testing.T, r *skill.Registry, id string, d time.Duration, starts *sync.Map) {
	t.Helper()
	err := r.Register(&skill.Skill{
		ID: id,
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			if starts != nil {
				starts.Store(id, time.Now())
			}
			time.Sleep(d)
			return map[string]any{"done": id}, nil
		},
	})
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func TestSwarmDependencyOrderAndParallelism(t *testing.T) {
	registry, executor, events := newHarness(t)
	var starts sync.Map
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		registerSleeper(t, registry, id, 30*time.Millisecond, &starts)
	}

	cfg := Config{
		Tasks: []Task{
			{Skill: "a"}, {Skill: "b"}, {Skill: "c"}, {Skill: "d"}, {Skill: "e"},
		},
		Dependencies: map[string][]string{
			"c": {"a"},
			"d": {"b"},
			"e": {"c", "d"},
		},
		MaxConcurrent: 5,
	}

	begin := time.Now()
	out, err := NewScheduler(executor, events, nil).Run(context.Background(), core.NewContext("dag", ""), cfg)
	if err != nil {
		t.Fatalf("swarm: %v", err)
	}
	elapsed := time.Since(begin)
	if elapsed >= 150*time.Millisecond {
		t.Fatalf("dag took %s, expected under 150ms", elapsed)
	}

	summary := out["summary"].(Summary)
	if summary.Completed != 5 || summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	aStart, _ := starts.Load("a")
	bStart, _ := starts.Load("b")
	gap := aStart.(time.Time).Sub(bStart.(time.Time))
	if gap < 0 {
		gap = -gap
	}
	if gap > 5*time.Millisecond {
		t.Fatalf("a and b started %s apart, expected within 5ms", gap)
	}

	// e must not start before both c and d finished.
	cStart, _ := starts.Load("c")
	eStart, _ := starts.Load("e")
	if eStart.(time.Time).Before(cStart.(time.Time).Add(30 * time.Millisecond)) {
		t.Fatal("e started before its dependencies completed")
	}
}

func TestSwarmEmptyTaskList(t *testing.T) {
	_, executor, events := newHarness(t)
	out, err := NewScheduler(executor, events, nil).Run(context.Background(), core.NewContext("empty", ""), Config{})
	if err != nil {
		t.Fatalf("swarm: %v", err)
	}
	summary := out["summary"].(Summary)
	if summary.Total != 0 || summary.Completed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.SuccessRate != 100 {
		t.Fatalf("vacuous run must report full success, got %f", summary.SuccessRate)
	}
}

func TestSwarmDeadlockNamesStalledTasks(t *testing.T) {
	registry, executor, events := newHarness(t)
	registerSleeper(t, registry, "x", time.Millisecond, nil)
	registerSleeper(t, registry, "y", time.Millisecond, nil)

	cfg := Config{
		Tasks: []Task{{Skill: "x"}, {Skill: "y"}},
		Dependencies: map[string][]string{
			"x": {"y"},
			"y": {"x"},
		},
	}
	_, err := NewScheduler(executor, events, nil).Run(context.Background(), core.NewContext("cycle", ""), cfg)
	if err == nil {
		t.Fatal("expected a deadlock error")
	}
	if !strings.Contains(err.Error(), "x") || !strings.Contains(err.Error(), "y") {
		t.Fatalf("deadlock error must list the cycle participants, got %v", err)
	}
}

func TestSwarmPriorityOrderWithinRound(t *testing.T) {
	registry, executor, events := newHarness(t)
	var mu sync.Mutex
	var order []string
	for _, id := range []string{"low", "high"} {
		err := registry.Register(&skill.Skill{
			ID: id,
			Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				return nil, nil
			},
		})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	// maxConcurrent 1 serializes the round so the P-label sort is
	// observable.
	cfg := Config{
		Tasks: []Task{
			{Skill: "low", Priority: core.P3},
			{Skill: "high", Priority: core.P0},
		},
		MaxConcurrent: 1,
	}
	_, err := NewScheduler(executor, events, nil).Run(context.Background(), core.NewContext("prio", ""), cfg)
	if err != nil {
		t.Fatalf("swarm: %v", err)
	}
	if order[0] != "high" {
		t.Fatalf("P0 task must run first, got order %v", order)
	}
}

func TestSwarmTaskTimeout(t *testing.T) {
	registry, executor, events := newHarness(t)
	registerSleeper(t, registry, "slow", 200*time.Millisecond, nil)

	cfg := Config{
		Tasks:       []Task{{ID: "slowpoke", Skill: "slow"}},
		TaskTimeout: 20 * time.Millisecond,
	}
	out, err := NewScheduler(executor, events, nil).Run(context.Background(), core.NewContext("slow", ""), cfg)
	if err != nil {
		t.Fatalf("swarm: %v", err)
	}
	results := out["results"].(map[string]*core.Result)
	res := results["slowpoke"]
	if res.Status != core.StatusTimeout {
		t.Fatalf("expected timeout status, got %s", res.Status)
	}
	if !strings.Contains(res.Error, "slowpoke") {
		t.Fatalf("timeout error must name the task, got %q", res.Error)
	}
}

func TestSwarmRetryThenFallback(t *testing.T) {
	registry, executor, events := newHarness(t)
	attempts := 0
	err := registry.Register(&skill.Skill{
		ID: "flaky",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			attempts++
			return nil, fmt.Errorf("still broken")
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	fallbackSaw := map[string]any{}
	err = registry.Register(&skill.Skill{
		ID: "rescue",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			fallbackSaw = input
			return map[string]any{"rescued": true}, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	cfg := Config{
		Tasks:         []Task{{ID: "job", Skill: "flaky", Retries: 2}},
		FallbackSkill: "rescue",
	}
	out, err := NewScheduler(executor, events, nil).Run(context.Background(), core.NewContext("ladder", ""), cfg)
	if err != nil {
		t.Fatalf("swarm: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts before fallback, got %d", attempts)
	}
	summary := out["summary"].(Summary)
	if summary.Completed != 1 {
		t.Fatalf("fallback must complete the task, summary %+v", summary)
	}
	if fallbackSaw["failedSkill"] != "flaky" {
		t.Fatal("fallback input must reference the failed skill")
	}
}

type scriptedReplanner struct {
	alt   Alternative
	calls int
}

func (r *scriptedReplanner) GenerateAlternatives(failed Task, state State) []Alternative {
	r.calls++
	return []Alternative{r.alt}
}

func TestSwarmReplanTakesConfidentAlternative(t *testing.T) {
	registry, executor, events := newHarness(t)
	err := registry.Register(&skill.Skill{
		ID: "broken",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return nil, fmt.Errorf("nope")
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	var altInput map[string]any
	err = registry.Register(&skill.Skill{
		ID: "plan-b",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			altInput = input
			return map[string]any{"plan": "b"}, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	rp := &scriptedReplanner{alt: Alternative{Task: Task{Skill: "plan-b"}, Confidence: 0.9}}
	cfg := Config{Tasks: []Task{{ID: "job", Skill: "broken"}}}
	out, err := NewScheduler(executor, events, rp).Run(context.Background(), core.NewContext("replan", ""), cfg)
	if err != nil {
		t.Fatalf("swarm: %v", err)
	}
	summary := out["summary"].(Summary)
	if summary.Completed != 1 {
		t.Fatalf("replanned task must complete, summary %+v", summary)
	}
	if altInput["originalTaskId"] != "job" {
		t.Fatal("alternative must be tagged with the original task id")
	}
}

func TestSwarmReplanRespectsConfidenceGate(t *testing.T) {
	registry, executor, events := newHarness(t)
	err := registry.Register(&skill.Skill{
		ID: "broken",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return nil, fmt.Errorf("nope")
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	rp := &scriptedReplanner{alt: Alternative{Task: Task{Skill: "broken"}, Confidence: 0.1}}
	cfg := Config{Tasks: []Task{{ID: "job", Skill: "broken"}}}
	out, err := NewScheduler(executor, events, rp).Run(context.Background(), core.NewContext("replan", ""), cfg)
	if err != nil {
		t.Fatalf("swarm: %v", err)
	}
	summary := out["summary"].(Summary)
	if summary.Failed != 1 {
		t.Fatalf("low-confidence alternative must not run, summary %+v", summary)
	}
}

func TestSwarmFirstStrategySkipsRest(t *testing.T) {
	registry, executor, events := newHarness(t)
	registerSleeper(t, registry, "fast", time.Millisecond, nil)
	registerSleeper(t, registry, "later", time.Millisecond, nil)

	cfg := Config{
		Tasks:        []Task{{Skill: "fast"}, {ID: "second", Skill: "later"}},
		Dependencies: map[string][]string{"second": {"fast"}},
		Strategy:     StrategyFirst,
	}
	out, err := NewScheduler(executor, events, nil).Run(context.Background(), core.NewContext("first", ""), cfg)
	if err != nil {
		t.Fatalf("swarm: %v", err)
	}
	summary := out["summary"].(Summary)
	if summary.Completed != 1 || summary.Skipped != 1 {
		t.Fatalf("first strategy must stop after one completion, summary %+v", summary)
	}
}

func TestSwarmQuorumStrategy(t *testing.T) {
	registry, executor, events := newHarness(t)
	for _, id := range []string{"q1", "q2", "q3", "q4"} {
		registerSleeper(t, registry, id, time.Millisecond, nil)
	}

	// Dependencies force one task per round; quorum 0.5 exits after two.
	cfg := Config{
		Tasks: []Task{{Skill: "q1"}, {Skill: "q2"}, {Skill: "q3"}, {Skill: "q4"}},
		Dependencies: map[string][]string{
			"q2": {"q1"},
			"q3": {"q2"},
			"q4": {"q3"},
		},
		Strategy:        StrategyQuorum,
		QuorumThreshold: 0.5,
	}
	out, err := NewScheduler(executor, events, nil).Run(context.Background(), core.NewContext("quorum", ""), cfg)
	if err != nil {
		t.Fatalf("swarm: %v", err)
	}
	summary := out["summary"].(Summary)
	if summary.Completed != 2 || summary.Skipped != 2 {
		t.Fatalf("quorum must exit at half, summary %+v", summary)
	}
}

func TestSwarmSkipsDependentsOfFailedTasks(t *testing.T) {
	registry, executor, events := newHarness(t)
	err := registry.Register(&skill.Skill{
		ID: "doomed",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return nil, fmt.Errorf("doomed")
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	registerSleeper(t, registry, "downstream", time.Millisecond, nil)

	cfg := Config{
		Tasks:        []Task{{Skill: "doomed"}, {ID: "dep", Skill: "downstream"}},
		Dependencies: map[string][]string{"dep": {"doomed"}},
	}
	out, err := NewScheduler(executor, events, nil).Run(context.Background(), core.NewContext("skips", ""), cfg)
	if err != nil {
		t.Fatalf("dependents of a failed task are skipped, not deadlocked: %v", err)
	}
	summary := out["summary"].(Summary)
	if summary.Failed != 1 || summary.Skipped != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestSwarmIdempotentWithDeterministicHandlers(t *testing.T) {
	registry, executor, events := newHarness(t)
	for _, id := range []string{"m", "n"} {
		err := registry.Register(&skill.Skill{
			ID: id,
			Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
				return map[string]any{"value": id}, nil
			},
		})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	cfg := Config{
		Tasks:        []Task{{Skill: "m"}, {Skill: "n"}},
		Dependencies: map[string][]string{"n": {"m"}},
		Strategy:     StrategyAll,
	}
	sched := NewScheduler(executor, events, nil)

	run := func() map[string]any {
		out, err := sched.Run(context.Background(), core.NewContext("again", ""), cfg)
		if err != nil {
			t.Fatalf("swarm: %v", err)
		}
		return out["outputs"].(map[string]any)
	}
	first := run()
	second := run()
	for id, v := range first {
		got := second[id].(map[string]any)
		want := v.(map[string]any)
		if got["value"] != want["value"] {
			t.Fatalf("re-execution diverged for %s: %v vs %v", id, want, got)
		}
	}
}
