package skill

import (
	"context"
	"strings"
	"testing"
	"time"
)

func noop(ctx context.Context, input map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&Skill{ID: "gen", Handler: noop}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&Skill{ID: "gen", Handler: noop}); err == nil {
		t.Fatal("duplicate registration accepted")
	}
}

func TestListPreservesInsertionOrder(t *testing.T) {
	r := NewRegistry(nil)
	for _, id := range []string{"c", "a", "b"} {
		_ = r.Register(&Skill{ID: id, Handler: noop})
	}
	list := r.List()
	if list[0].ID != "c" || list[1].ID != "a" || list[2].ID != "b" {
		t.Fatalf("insertion order lost: %v", []string{list[0].ID, list[1].ID, list[2].ID})
	}
	r.Unregister("a")
	list = r.List()
	if len(list) != 2 || list[1].ID != "b" {
		t.Fatal("unregister broke ordering")
	}
}

func TestFindByCategoryAndTag(t *testing.T) {
	r := NewRegistry(nil)
	_ = r.Register(&Skill{ID: "lint", Category: "testing", Tags: []string{"static"}, Handler: noop})
	_ = r.Register(&Skill{ID: "unit", Category: "testing", Tags: []string{"runtime"}, Handler: noop})
	if got := r.FindByCategory("testing"); len(got) != 2 {
		t.Fatalf("expected 2 by category, got %d", len(got))
	}
	if got := r.FindByTag("static"); len(got) != 1 || got[0].ID != "lint" {
		t.Fatal("tag lookup failed")
	}
}

func TestResolveDependenciesTopological(t *testing.T) {
	r := NewRegistry(nil)
	_ = r.Register(&Skill{ID: "fetch", Handler: noop})
	_ = r.Register(&Skill{ID: "parse", Dependencies: []string{"fetch"}, Handler: noop})
	_ = r.Register(&Skill{ID: "report", Dependencies: []string{"parse", "fetch"}, Handler: noop})

	order, err := r.ResolveDependencies("report")
	if err != nil {
		t.Fatal(err)
	}
	if order[len(order)-1] != "report" {
		t.Fatalf("target not last: %v", order)
	}
	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	if pos["fetch"] > pos["parse"] {
		t.Fatalf("dependency order violated: %v", order)
	}
}

func TestResolveDependenciesCycle(t *testing.T) {
	r := NewRegistry(nil)
	_ = r.Register(&Skill{ID: "a", Dependencies: []string{"b"}, Handler: noop})
	_ = r.Register(&Skill{ID: "b", Dependencies: []string{"a"}, Handler: noop})

	_, err := r.ResolveDependencies("a")
	if err == nil {
		t.Fatal("cycle not detected")
	}
	if !strings.Contains(err.Error(), "a") || !strings.Contains(err.Error(), "b") {
		t.Fatalf("cycle error does not name participants: %v", err)
	}
}

func TestMetricsTally(t *testing.T) {
	r := NewRegistry(nil)
	_ = r.Register(&Skill{ID: "gen", Handler: noop})
	r.RecordMetric("gen", true, 10*time.Millisecond)
	r.RecordMetric("gen", false, 30*time.Millisecond)

	m, ok := r.MetricsFor("gen")
	if !ok {
		t.Fatal("metrics missing")
	}
	if m.Executions != 2 || m.Successes != 1 || m.Failures != 1 {
		t.Fatalf("unexpected tally: %+v", m)
	}
	if m.AverageDuration() != 20*time.Millisecond {
		t.Fatalf("unexpected average: %v", m.AverageDuration())
	}
}

func TestValidateSchema(t *testing.T) {
	schema := []Field{
		{Name: "content", Type: TypeString, Required: true},
		{Name: "count", Type: TypeNumber},
		{Name: "positive", Type: TypeNumber, Check: func(v any) error {
			if n, ok := v.(int); ok && n <= 0 {
				return context.DeadlineExceeded // any error aborts
			}
			return nil
		}},
	}

	if err := Validate(schema, map[string]any{"content": "x"}); err != nil {
		t.Fatal(err)
	}
	if err := Validate(schema, map[string]any{}); err == nil {
		t.Fatal("missing required field accepted")
	}
	if err := Validate(schema, map[string]any{"content": 42}); err == nil {
		t.Fatal("wrong type accepted")
	}
	if err := Validate(schema, map[string]any{"content": "x", "positive": -1}); err == nil {
		t.Fatal("custom predicate ignored")
	}
}
