package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/skeinhq/skein/internal/bus"
	"github.com/skeinhq/skein/internal/config"
	"github.com/skeinhq/skein/internal/engine"
	"github.com/skeinhq/skein/internal/store"
)

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule(`{"kind":"cron","cron_expr":"0 3 * * *"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Kind != "cron" || s.CronExpr != "0 3 * * *" {
		t.Errorf("unexpected schedule: %+v", s)
	}

	if _, err := ParseSchedule("not json"); err == nil {
		t.Error("expected error for invalid json")
	}
}

func TestCalculateNextRunCron(t *testing.T) {
	next := CalculateNextRun(`{"kind":"cron","cron_expr":"* * * * *"}`)
	if next == nil {
		t.Fatal("expected next run for every-minute cron")
	}
	if !next.After(time.Now()) {
		t.Errorf("next run not in the future: %v", next)
	}
}

func TestCalculateNextRunInterval(t *testing.T) {
	next := CalculateNextRun(`{"kind":"interval","interval_ms":60000}`)
	if next == nil {
		t.Fatal("expected next run for interval")
	}
	delta := time.Until(*next)
	if delta < 55*time.Second || delta > 65*time.Second {
		t.Errorf("expected roughly one minute out, got %v", delta)
	}
}

func TestCalculateNextRunOnce(t *testing.T) {
	future := time.Now().Add(time.Hour).UnixMilli()
	next := CalculateNextRun(`{"kind":"once","at_ms":` + strconv.FormatInt(future, 10) + `}`)
	if next == nil {
		t.Fatal("expected next run for future one-off")
	}

	if next := CalculateNextRun(`{"kind":"once","at_ms":1000}`); next != nil {
		t.Errorf("expected nil for past one-off, got %v", next)
	}
}

func TestCalculateNextRunInvalid(t *testing.T) {
	if next := CalculateNextRun(`{"kind":"lunar"}`); next != nil {
		t.Errorf("expected nil for unknown kind, got %v", next)
	}
	if next := CalculateNextRun("garbage"); next != nil {
		t.Errorf("expected nil for garbage, got %v", next)
	}
}

type fakeRunner struct {
	calls []engine.ExecuteRequest
	err   error
}

func (f *fakeRunner) Execute(ctx context.Context, pattern string, req engine.ExecuteRequest) (map[string]any, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"ok": true}, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPollFiresDueRuns(t *testing.T) {
	st := newTestStore(t)
	runner := &fakeRunner{}
	events := bus.New()

	var fired []string
	events.Subscribe("scheduleFired", func(ev bus.Event) {
		fired = append(fired, ev.Payload["id"].(string))
	})

	past := time.Now().Add(-time.Minute)
	run := &store.ScheduledRun{
		ID: "sr-1", Name: "hourly-digest", Pattern: "sequential", Task: "build the digest",
		Input:    map[string]any{"audience": "ops"},
		Schedule: `{"kind":"interval","interval_ms":3600000}`,
		Status:   "active", NextRunAt: &past,
	}
	if err := st.SaveScheduledRun(run); err != nil {
		t.Fatal(err)
	}

	sched := New(st, runner, events, config.SchedulerConfig{PollInterval: time.Hour})
	sched.Poll(context.Background())

	if len(runner.calls) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(runner.calls))
	}
	if runner.calls[0].Task != "build the digest" {
		t.Errorf("unexpected task: %s", runner.calls[0].Task)
	}
	if runner.calls[0].Input["audience"] != "ops" {
		t.Errorf("input not forwarded: %v", runner.calls[0].Input)
	}
	if runner.calls[0].Input["scheduleId"] != "sr-1" {
		t.Errorf("scheduleId not injected: %v", runner.calls[0].Input)
	}
	if len(fired) != 1 || fired[0] != "sr-1" {
		t.Errorf("expected scheduleFired for sr-1, got %v", fired)
	}

	got, err := st.GetScheduledRun("sr-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastStatus != "success" {
		t.Errorf("expected success, got %s", got.LastStatus)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Errorf("expected future next run, got %v", got.NextRunAt)
	}

	// Nothing due anymore
	runner.calls = nil
	sched.Poll(context.Background())
	if len(runner.calls) != 0 {
		t.Errorf("expected no executions, got %d", len(runner.calls))
	}
}

func TestPollRetiresOneOffRuns(t *testing.T) {
	st := newTestStore(t)
	runner := &fakeRunner{}

	past := time.Now().Add(-time.Minute)
	run := &store.ScheduledRun{
		ID: "sr-once", Name: "one-shot", Pattern: "auto", Task: "cleanup",
		Schedule: `{"kind":"once","at_ms":1000}`,
		Status:   "active", NextRunAt: &past,
	}
	if err := st.SaveScheduledRun(run); err != nil {
		t.Fatal(err)
	}

	sched := New(st, runner, nil, config.SchedulerConfig{})
	sched.Poll(context.Background())

	got, err := st.GetScheduledRun("sr-once")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "completed" {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.NextRunAt != nil {
		t.Errorf("expected nil next run, got %v", got.NextRunAt)
	}
}

func TestPollRecordsFailure(t *testing.T) {
	st := newTestStore(t)
	runner := &fakeRunner{err: errors.New("skill exploded")}

	past := time.Now().Add(-time.Minute)
	run := &store.ScheduledRun{
		ID: "sr-fail", Name: "flaky", Pattern: "swarm", Task: "audit",
		Schedule: `{"kind":"interval","interval_ms":60000}`,
		Status:   "active", NextRunAt: &past,
	}
	if err := st.SaveScheduledRun(run); err != nil {
		t.Fatal(err)
	}

	sched := New(st, runner, nil, config.SchedulerConfig{})
	sched.Poll(context.Background())

	got, err := st.GetScheduledRun("sr-fail")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastStatus != "error" {
		t.Errorf("expected error status, got %s", got.LastStatus)
	}
	if got.LastError != "skill exploded" {
		t.Errorf("expected error recorded, got %s", got.LastError)
	}
	if got.Status != "active" {
		t.Errorf("interval schedule must stay active, got %s", got.Status)
	}
}
