// Package scheduler polls the store for due scheduled runs and fires
// them through the engine.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/skeinhq/skein/internal/bus"
	"github.com/skeinhq/skein/internal/config"
	"github.com/skeinhq/skein/internal/engine"
	"github.com/skeinhq/skein/internal/store"
)

// Runner executes one pattern run. *engine.Engine satisfies it.
type Runner interface {
	Execute(ctx context.Context, pattern string, req engine.ExecuteRequest) (map[string]any, error)
}

type Scheduler struct {
	store        *store.Store
	runner       Runner
	events       *bus.Bus
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s *store.Store, runner Runner, events *bus.Bus, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		runner:       runner,
		events:       events,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// UpdateConfig updates the poll interval and signals the run loop to
// reset its ticker.
func (s *Scheduler) UpdateConfig(pollInterval time.Duration) {
	s.pollInterval = pollInterval
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.pollInterval)
			slog.Info("scheduler config reloaded", "poll_interval", s.pollInterval)
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll fires every due schedule once. Exposed so the CLI can force an
// immediate pass.
func (s *Scheduler) Poll(ctx context.Context) {
	due, err := s.store.GetDueRuns(time.Now())
	if err != nil {
		slog.Error("failed to get due runs", "error", err)
		return
	}

	for _, run := range due {
		s.fire(ctx, run)
	}
}

func (s *Scheduler) fire(ctx context.Context, run store.ScheduledRun) {
	slog.Info("firing scheduled run", "id", run.ID, "name", run.Name, "pattern", run.Pattern)

	input := make(map[string]any, len(run.Input)+1)
	for k, v := range run.Input {
		input[k] = v
	}
	input["scheduleId"] = run.ID

	_, err := s.runner.Execute(ctx, run.Pattern, engine.ExecuteRequest{
		Task:  run.Task,
		Input: input,
	})

	var lastStatus, lastError string
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("scheduled run failed", "id", run.ID, "error", err)
	} else {
		lastStatus = "success"
	}

	nextRun := CalculateNextRun(run.Schedule)

	if err := s.store.UpdateRunOutcome(run.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update scheduled run", "id", run.ID, "error", err)
	}

	if s.events != nil {
		s.events.Emit("scheduleFired", "", map[string]any{
			"id":     run.ID,
			"name":   run.Name,
			"status": lastStatus,
		})
	}

	// One-off schedules retire once they have no next run
	if nextRun == nil {
		slog.Info("no next run, completing schedule", "id", run.ID, "name", run.Name)
		if err := s.store.UpdateScheduleStatus(run.ID, "completed"); err != nil {
			slog.Error("failed to complete schedule", "id", run.ID, "error", err)
		}
	}
}
