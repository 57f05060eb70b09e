package pattern

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/skeinhq/skein/internal/bus"
	"github.com/skeinhq/skein/internal/core"
	"github.com/skeinhq/skein/internal/resilience"
	"github.com/skeinhq/skein/internal/skill"
)

func newTestExecutor(t *testing.T) (*skill.Registry, *skill.Executor, *bus.Bus) {
	t.Helper()
	events := bus.New()
	registry := skill.NewRegistry(events)
	executor := skill.NewExecutor(registry, events, resilience.NewClassifier(), 10)
	return registry, executor, events
}

func mustRegister(t *testing.T, r *skill.Registry, s *skill.Skill) {
	t.Helper()
	if err := r.Register(s); err != nil {
		t.Fatalf("register %s: %v", s.ID, err)
	}
}

func TestSequentialPipeline(t *testing.T) {
	registry, executor, _ := newTestExecutor(t)
	mustRegister(t, registry, &skill.Skill{
		ID: "gen",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"content": "x"}, nil
		},
	})
	mustRegister(t, registry, &skill.Skill{
		ID: "process",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			content, _ := input["content"].(string)
			return map[string]any{"content": strings.ToUpper(content)}, nil
		},
	})

	seq := NewSequential(executor, SequentialConfig{
		Steps: []SequentialStep{{Skill: "gen"}, {Skill: "process"}},
	})
	out, err := seq.Execute(context.Background(), core.NewContext("pipeline", ""))
	if err != nil {
		t.Fatalf("sequential: %v", err)
	}

	final := out["output"].(map[string]any)
	if final["content"] != "X" {
		t.Fatalf("expected content X, got %v", final["content"])
	}
	summary := out["summary"].(map[string]any)
	if summary["completed"] != 2 {
		t.Fatalf("expected 2 completed, got %v", summary["completed"])
	}
}

func TestSequentialStopsOnFirstFailure(t *testing.T) {
	registry, executor, _ := newTestExecutor(t)
	ran := false
	mustRegister(t, registry, &skill.Skill{
		ID: "boom",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return nil, fmt.Errorf("boom")
		},
	})
	mustRegister(t, registry, &skill.Skill{
		ID: "after",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			ran = true
			return nil, nil
		},
	})

	seq := NewSequential(executor, SequentialConfig{
		Steps: []SequentialStep{{Skill: "boom"}, {Skill: "after"}},
	})
	out, err := seq.Execute(context.Background(), core.NewContext("fail fast", ""))
	if err != nil {
		t.Fatalf("sequential: %v", err)
	}
	if ran {
		t.Fatal("step after a failure must not run")
	}
	summary := out["summary"].(map[string]any)
	if summary["failed"] != 1 || summary["completed"] != 0 {
		t.Fatalf("unexpected summary %v", summary)
	}
}

func TestSequentialContinueOnError(t *testing.T) {
	registry, executor, _ := newTestExecutor(t)
	mustRegister(t, registry, &skill.Skill{
		ID: "boom",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return nil, fmt.Errorf("boom")
		},
	})
	mustRegister(t, registry, &skill.Skill{
		ID: "after",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		},
	})

	seq := NewSequential(executor, SequentialConfig{
		Steps:           []SequentialStep{{Skill: "boom"}, {Skill: "after"}},
		ContinueOnError: true,
	})
	out, err := seq.Execute(context.Background(), core.NewContext("keep going", ""))
	if err != nil {
		t.Fatalf("sequential: %v", err)
	}
	summary := out["summary"].(map[string]any)
	if summary["completed"] != 1 || summary["failed"] != 1 {
		t.Fatalf("unexpected summary %v", summary)
	}
}

func TestAutoRoutesByKeywords(t *testing.T) {
	registry, executor, events := newTestExecutor(t)
	mustRegister(t, registry, &skill.Skill{
		ID:       "requirements-analyst",
		Keywords: []string{"requirement", "ears"},
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"analysed": true}, nil
		},
	})
	mustRegister(t, registry, &skill.Skill{
		ID:       "test-engineer",
		Keywords: []string{"test", "qa"},
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return nil, nil
		},
	})

	auto := NewAuto(registry, executor, events, AutoConfig{})
	ectx := core.NewContext("Write requirements for login", "")
	out, err := auto.Execute(context.Background(), ectx)
	if err != nil {
		t.Fatalf("auto: %v", err)
	}

	if out["selectedSkill"] != "requirements-analyst" {
		t.Fatalf("expected requirements-analyst, got %v", out["selectedSkill"])
	}
	confidence := out["confidence"].(float64)
	if confidence < 0.3 {
		t.Fatalf("confidence %f below minimum", confidence)
	}
	level := out["confidenceLevel"].(string)
	if level != "medium" && level != "high" {
		t.Fatalf("expected medium or high confidence, got %s", level)
	}
}

func TestAutoScoreBounds(t *testing.T) {
	registry, executor, events := newTestExecutor(t)
	mustRegister(t, registry, &skill.Skill{
		ID:          "requirements-analyst",
		Description: "Write requirements for login features",
		Category:    "requirements",
		Keywords:    []string{"requirement", "login"},
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return nil, nil
		},
	})

	auto := NewAuto(registry, executor, events, AutoConfig{})
	matches := auto.Matches("Write requirements for login with requirements analyst")
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %d", len(matches))
	}
	if matches[0].Score < 0 || matches[0].Score > 1 {
		t.Fatalf("score %f outside [0,1]", matches[0].Score)
	}
	// Full name substring, both keywords, category keyword, and a
	// saturated description overlap give full credit.
	if matches[0].Score != 1 {
		t.Fatalf("expected score 1, got %f", matches[0].Score)
	}
}

func TestAutoRetainsScoreEqualToThreshold(t *testing.T) {
	registry, executor, events := newTestExecutor(t)
	// Name-only skill: one of two name tokens hit gives exactly 0.5
	// normalized, keywords absent so only the name weight counts.
	mustRegister(t, registry, &skill.Skill{
		ID: "report-builder",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return nil, nil
		},
	})

	auto := NewAuto(registry, executor, events, AutoConfig{MinConfidence: 0.5})
	matches := auto.Matches("build the report")
	if len(matches) != 1 {
		t.Fatalf("score equal to threshold must be retained, got %d matches", len(matches))
	}
	if matches[0].Score != 0.5 {
		t.Fatalf("expected 0.5, got %f", matches[0].Score)
	}
}

func TestAutoFallback(t *testing.T) {
	registry, executor, events := newTestExecutor(t)
	mustRegister(t, registry, &skill.Skill{
		ID:       "niche",
		Keywords: []string{"zzz"},
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return nil, nil
		},
	})
	fallbackRan := false
	mustRegister(t, registry, &skill.Skill{
		ID: "general",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			fallbackRan = true
			return map[string]any{"handled": true}, nil
		},
	})

	var fired []string
	events.Subscribe(bus.EventAutoPatternFallback, func(e bus.Event) {
		fired = append(fired, e.Name)
	})

	auto := NewAuto(registry, executor, events, AutoConfig{FallbackSkill: "general"})
	out, err := auto.Execute(context.Background(), core.NewContext("completely unrelated chatter", ""))
	if err != nil {
		t.Fatalf("auto: %v", err)
	}
	if !fallbackRan {
		t.Fatal("fallback skill did not run")
	}
	if out["fallback"] != true {
		t.Fatal("output missing fallback marker")
	}
	if len(fired) != 1 {
		t.Fatalf("expected one fallback event, got %d", len(fired))
	}
}

func TestAutoNoMatchNoFallback(t *testing.T) {
	registry, executor, events := newTestExecutor(t)
	mustRegister(t, registry, &skill.Skill{
		ID:       "niche",
		Keywords: []string{"zzz"},
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return nil, nil
		},
	})

	auto := NewAuto(registry, executor, events, AutoConfig{})
	if _, err := auto.Execute(context.Background(), core.NewContext("completely unrelated chatter", "")); err == nil {
		t.Fatal("expected an error when nothing matches and no fallback is set")
	}
}

func TestAutoMultiMatch(t *testing.T) {
	registry, executor, events := newTestExecutor(t)
	for _, id := range []string{"deploy-runner", "deploy-checker", "deploy-notifier"} {
		mustRegister(t, registry, &skill.Skill{
			ID:       id,
			Keywords: []string{"deploy"},
			Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
				return map[string]any{"skill": id}, nil
			},
		})
	}

	auto := NewAuto(registry, executor, events, AutoConfig{MultiMatch: true, MaxMatches: 2})
	out, err := auto.Execute(context.Background(), core.NewContext("deploy the service", ""))
	if err != nil {
		t.Fatalf("auto: %v", err)
	}
	results := out["results"].([]*core.Result)
	if len(results) != 2 {
		t.Fatalf("expected 2 executions with maxMatches 2, got %d", len(results))
	}
	// Equal scores tie-break by insertion order.
	if out["selectedSkill"] != "deploy-runner" {
		t.Fatalf("expected deploy-runner first, got %v", out["selectedSkill"])
	}
}

func TestGroupChatTranscript(t *testing.T) {
	registry, executor, events := newTestExecutor(t)
	for _, id := range []string{"alice", "bob"} {
		mustRegister(t, registry, &skill.Skill{
			ID: id,
			Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
				history, _ := input["history"].([]ChatMessage)
				return map[string]any{"speaker": id, "heard": len(history)}, nil
			},
		})
	}

	chat := NewGroupChat(executor, events, GroupChatConfig{
		Participants: []string{"alice", "bob"},
		Rounds:       2,
	})
	out, err := chat.Execute(context.Background(), core.NewContext("debate", ""))
	if err != nil {
		t.Fatalf("group chat: %v", err)
	}

	history := out["history"].([]ChatMessage)
	if len(history) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(history))
	}
	if history[0].Skill != "alice" || history[1].Skill != "bob" {
		t.Fatalf("unexpected speaking order: %s, %s", history[0].Skill, history[1].Skill)
	}
	if history[3].Round != 2 {
		t.Fatalf("expected last message in round 2, got %d", history[3].Round)
	}
	// Each speaker sees all prior messages.
	if history[3].Content["heard"] != 3 {
		t.Fatalf("last speaker heard %v messages, expected 3", history[3].Content["heard"])
	}
}

func TestGroupChatFailureStopsRun(t *testing.T) {
	registry, executor, events := newTestExecutor(t)
	mustRegister(t, registry, &skill.Skill{
		ID: "grump",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return nil, fmt.Errorf("not in the mood")
		},
	})

	chat := NewGroupChat(executor, events, GroupChatConfig{Participants: []string{"grump"}, Rounds: 3})
	if _, err := chat.Execute(context.Background(), core.NewContext("debate", "")); err == nil {
		t.Fatal("expected failure to stop the chat")
	}
}

type scriptedGate struct {
	approve  bool
	feedback string
	asked    []string
}

func (g *scriptedGate) Request(ctx context.Context, question string, state map[string]any) (GateResponse, error) {
	g.asked = append(g.asked, question)
	return GateResponse{Approved: g.approve, Feedback: g.feedback}, nil
}

func TestHumanInLoopApprovedRun(t *testing.T) {
	registry, executor, events := newTestExecutor(t)
	mustRegister(t, registry, &skill.Skill{
		ID: "draft",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"draft": "v1"}, nil
		},
	})
	mustRegister(t, registry, &skill.Skill{
		ID: "publish",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			if input["draft"] != "v1" {
				return nil, fmt.Errorf("missing draft")
			}
			return map[string]any{"published": true}, nil
		},
	})

	gate := &scriptedGate{approve: true}
	hil := NewHumanInLoop(executor, events, gate, HumanInLoopConfig{
		Steps: []HumanStep{
			{Skill: "draft", Question: "Publish this draft?"},
			{Skill: "publish"},
		},
	})
	out, err := hil.Execute(context.Background(), core.NewContext("release", ""))
	if err != nil {
		t.Fatalf("human in loop: %v", err)
	}
	if len(gate.asked) != 1 || gate.asked[0] != "Publish this draft?" {
		t.Fatalf("unexpected gate questions %v", gate.asked)
	}
	final := out["output"].(map[string]any)
	if final["published"] != true {
		t.Fatal("second step did not run after approval")
	}
}

func TestHumanInLoopRejectionAborts(t *testing.T) {
	registry, executor, events := newTestExecutor(t)
	mustRegister(t, registry, &skill.Skill{
		ID: "draft",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"draft": "v1"}, nil
		},
	})
	ran := false
	mustRegister(t, registry, &skill.Skill{
		ID: "publish",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			ran = true
			return nil, nil
		},
	})

	var aborted bool
	events.Subscribe(bus.EventHumanInLoopAborted, func(e bus.Event) { aborted = true })

	gate := &scriptedGate{approve: false, feedback: "needs legal review"}
	hil := NewHumanInLoop(executor, events, gate, HumanInLoopConfig{
		Steps: []HumanStep{
			{Skill: "draft", Question: "Publish this draft?"},
			{Skill: "publish"},
		},
	})
	_, err := hil.Execute(context.Background(), core.NewContext("release", ""))
	if err == nil || !strings.Contains(err.Error(), "needs legal review") {
		t.Fatalf("expected rejection error with feedback, got %v", err)
	}
	if ran {
		t.Fatal("step after a rejected gate must not run")
	}
	if !aborted {
		t.Fatal("expected an aborted event")
	}
}

func TestHumanInLoopNilGateAutoApproves(t *testing.T) {
	registry, executor, events := newTestExecutor(t)
	mustRegister(t, registry, &skill.Skill{
		ID: "draft",
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"draft": "v1"}, nil
		},
	})

	hil := NewHumanInLoop(executor, events, nil, HumanInLoopConfig{
		Steps: []HumanStep{{Skill: "draft", Question: "Proceed?"}},
	})
	out, err := hil.Execute(context.Background(), core.NewContext("release", ""))
	if err != nil {
		t.Fatalf("nil gate must auto-approve: %v", err)
	}
	summary := out["summary"].(map[string]any)
	if summary["completed"] != 1 {
		t.Fatalf("unexpected summary %v", summary)
	}
}

func TestDispatcherRejectsDuplicateAndUnknown(t *testing.T) {
	_, executor, _ := newTestExecutor(t)
	d := NewDispatcher()
	seq := NewSequential(executor, SequentialConfig{})
	if err := d.Register(seq); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := d.Register(seq); err == nil {
		t.Fatal("duplicate registration must fail")
	}
	if _, err := d.Execute(context.Background(), "nope", core.NewContext("x", "")); err == nil {
		t.Fatal("unknown pattern must fail")
	}
}
