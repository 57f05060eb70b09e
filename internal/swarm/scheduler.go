// Package swarm schedules a DAG of skill tasks with priority labels,
// early-exit strategies, and a replan/retry/fallback failure ladder.
package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/skeinhq/skein/internal/bus"
	"github.com/skeinhq/skein/internal/core"
	"github.com/skeinhq/skein/internal/skill"
)

const (
	defaultMaxConcurrent    = 10
	defaultQuorumThreshold  = 0.6
	defaultReplanConfidence = 0.7
)

type taskRun struct {
	task     Task
	status   core.Status
	result   *core.Result
	retries  int // retries consumed
	fellBack bool
	replans  int
}

// Scheduler executes swarm configurations against the skill executor.
type Scheduler struct {
	executor  *skill.Executor
	events    *bus.Bus
	replanner Replanner
}

func NewScheduler(executor *skill.Executor, events *bus.Bus, replanner Replanner) *Scheduler {
	if replanner == nil {
		replanner = NoopReplanner{}
	}
	return &Scheduler{executor: executor, events: events, replanner: replanner}
}

// Swarm adapts a Scheduler plus a Config to the pattern interface.
type Swarm struct {
	sched *Scheduler
	cfg   Config
}

func NewSwarm(executor *skill.Executor, events *bus.Bus, replanner Replanner, cfg Config) *Swarm {
	return &Swarm{sched: NewScheduler(executor, events, replanner), cfg: cfg}
}

func (s *Swarm) Name() string { return "swarm" }

func (s *Swarm) Execute(ctx context.Context, ectx *core.ExecutionContext) (map[string]any, error) {
	return s.sched.Run(ctx, ectx, s.cfg)
}

// Run drains the DAG in ready-set rounds. A task is ready when all its
// declared dependencies completed. Each round takes the ready set sorted
// by P-label, capped to maxConcurrent, and settles it before the next.
func (s *Scheduler) Run(ctx context.Context, ectx *core.ExecutionContext, cfg Config) (map[string]any, error) {
	start := time.Now()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.QuorumThreshold <= 0 {
		cfg.QuorumThreshold = defaultQuorumThreshold
	}
	if cfg.ReplanConfidence <= 0 {
		cfg.ReplanConfidence = defaultReplanConfidence
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyAll
	}

	order, runs, err := indexTasks(cfg)
	if err != nil {
		return nil, err
	}

	s.emit(bus.EventSwarmStarted, ectx.ID, map[string]any{
		"tasks":    len(order),
		"strategy": string(cfg.Strategy),
	})

	if len(order) == 0 {
		summary := s.summarize(order, runs, start)
		s.emit(bus.EventSwarmCompleted, ectx.ID, map[string]any{"summary": summary})
		return s.output(order, runs, summary), nil
	}

	shared := ectx.Input()
	delete(shared, core.CancelKey)

	round := 0
	for {
		if ectx.Cancelled() {
			s.emit(bus.EventSwarmFailed, ectx.ID, map[string]any{"error": "cancelled"})
			return nil, fmt.Errorf("swarm cancelled after %d rounds", round)
		}

		skipUnreachable(order, runs, cfg.Dependencies)

		pending := pendingIDs(order, runs)
		if len(pending) == 0 {
			break
		}

		ready := readySet(order, runs, cfg.Dependencies)
		if len(ready) == 0 {
			sort.Strings(pending)
			s.emit(bus.EventSwarmFailed, ectx.ID, map[string]any{"stalled": pending})
			return nil, fmt.Errorf("swarm deadlocked, unresolvable tasks: %v", pending)
		}

		sort.SliceStable(ready, func(i, j int) bool {
			return runs[ready[i]].task.Priority.Order() < runs[ready[j]].task.Priority.Order()
		})
		if len(ready) > cfg.MaxConcurrent {
			ready = ready[:cfg.MaxConcurrent]
		}

		round++
		s.emit(bus.EventSwarmBatchStarted, ectx.ID, map[string]any{"round": round, "tasks": ready})
		slog.Debug("swarm round", "round", round, "tasks", ready)

		s.runBatch(ctx, ectx, cfg, ready, runs, shared)
		s.settleBatch(ectx, cfg, ready, order, runs)

		if s.earlyExit(cfg, order, runs) {
			for _, id := range pendingIDs(order, runs) {
				runs[id].status = core.StatusSkipped
			}
			break
		}
	}

	summary := s.summarize(order, runs, start)
	s.emit(bus.EventSwarmCompleted, ectx.ID, map[string]any{"summary": summary})
	return s.output(order, runs, summary), nil
}

// indexTasks validates uniqueness and dependency references.
func indexTasks(cfg Config) ([]string, map[string]*taskRun, error) {
	order := make([]string, 0, len(cfg.Tasks))
	runs := make(map[string]*taskRun, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		id := t.key()
		if id == "" {
			return nil, nil, fmt.Errorf("task without id or skill")
		}
		if _, dup := runs[id]; dup {
			return nil, nil, fmt.Errorf("duplicate task id %s", id)
		}
		runs[id] = &taskRun{task: t, status: core.StatusPending}
		order = append(order, id)
	}
	for id, deps := range cfg.Dependencies {
		if _, ok := runs[id]; !ok {
			return nil, nil, fmt.Errorf("dependencies reference unknown task %s", id)
		}
		for _, dep := range deps {
			if _, ok := runs[dep]; !ok {
				return nil, nil, fmt.Errorf("task %s depends on unknown task %s", id, dep)
			}
		}
	}
	return order, runs, nil
}

func pendingIDs(order []string, runs map[string]*taskRun) []string {
	var out []string
	for _, id := range order {
		if runs[id].status == core.StatusPending {
			out = append(out, id)
		}
	}
	return out
}

// skipUnreachable marks pending tasks whose dependencies terminated
// without completing. They can never become ready, but that is a domain
// outcome, not a deadlock.
func skipUnreachable(order []string, runs map[string]*taskRun, deps map[string][]string) {
	for changed := true; changed; {
		changed = false
		for _, id := range order {
			if runs[id].status != core.StatusPending {
				continue
			}
			for _, dep := range deps[id] {
				st := runs[dep].status
				if st.Terminal() && st != core.StatusCompleted {
					runs[id].status = core.StatusSkipped
					changed = true
					break
				}
			}
		}
	}
}

func readySet(order []string, runs map[string]*taskRun, deps map[string][]string) []string {
	var ready []string
	for _, id := range order {
		if runs[id].status != core.StatusPending {
			continue
		}
		ok := true
		for _, dep := range deps[id] {
			if runs[dep].status != core.StatusCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

func (s *Scheduler) runBatch(ctx context.Context, ectx *core.ExecutionContext, cfg Config, ready []string, runs map[string]*taskRun, shared map[string]any) {
	previous := make(map[string]any)
	for id, tr := range runs {
		if tr.status == core.StatusCompleted && tr.result != nil {
			previous[id] = tr.result.Output
		}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range ready {
		tr := runs[id]
		tr.status = core.StatusRunning
		wg.Add(1)
		go func(id string, tr *taskRun) {
			defer wg.Done()
			input := make(map[string]any, len(shared)+len(tr.task.Input)+1)
			for k, v := range shared {
				input[k] = v
			}
			for k, v := range tr.task.Input {
				input[k] = v
			}
			input["previousResults"] = previous

			res, err := s.executor.Execute(ctx, tr.task.Skill, input, &skill.ExecOptions{
				Timeout: cfg.TaskTimeout,
				Parent:  ectx,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				tr.result = &core.Result{SkillID: tr.task.Skill, Status: core.StatusFailed, Error: err.Error()}
				return
			}
			if res.Status == core.StatusTimeout {
				res.Error = fmt.Sprintf("task %s timed out after %s", id, cfg.TaskTimeout)
			}
			tr.result = res
		}(id, tr)
	}
	wg.Wait()
}

// settleBatch moves each finished task to completed or runs it through the
// failure ladder: replan, then retry, then fallback, then failed.
func (s *Scheduler) settleBatch(ectx *core.ExecutionContext, cfg Config, ready, order []string, runs map[string]*taskRun) {
	for _, id := range ready {
		tr := runs[id]
		if tr.result != nil && tr.result.Success() {
			tr.status = core.StatusCompleted
			s.emit(bus.EventSwarmTaskCompleted, ectx.ID, map[string]any{"task": id})
			continue
		}

		errMsg := "no result"
		if tr.result != nil {
			errMsg = tr.result.Error
		}

		if alt, ok := s.replan(cfg, order, runs, tr); ok {
			// The alternative replaces the failed task under the same
			// id so dependents keep waiting on it.
			if alt.Task.Input == nil {
				alt.Task.Input = make(map[string]any)
			}
			alt.Task.Input["originalTaskId"] = id
			prio := tr.task.Priority
			tr.task = alt.Task
			if tr.task.Priority == "" {
				tr.task.Priority = prio
			}
			tr.status = core.StatusPending
			tr.replans++
			s.emit(bus.EventSwarmTaskReplanned, ectx.ID, map[string]any{
				"task":       id,
				"skill":      alt.Task.Skill,
				"confidence": alt.Confidence,
			})
			continue
		}

		if tr.retries < tr.task.Retries {
			tr.retries++
			tr.status = core.StatusPending
			s.emit(bus.EventSwarmTaskFailed, ectx.ID, map[string]any{
				"task":   id,
				"error":  errMsg,
				"action": "retry",
				"retry":  tr.retries,
			})
			continue
		}

		if cfg.FallbackSkill != "" && !tr.fellBack {
			tr.fellBack = true
			if tr.task.Input == nil {
				tr.task.Input = make(map[string]any)
			}
			tr.task.Input["failedSkill"] = tr.task.Skill
			tr.task.Skill = cfg.FallbackSkill
			tr.status = core.StatusPending
			s.emit(bus.EventSwarmTaskFailed, ectx.ID, map[string]any{
				"task":   id,
				"error":  errMsg,
				"action": "fallback",
			})
			continue
		}

		tr.status = core.StatusFailed
		s.emit(bus.EventSwarmTaskFailed, ectx.ID, map[string]any{
			"task":   id,
			"error":  errMsg,
			"action": "failed",
		})
	}
}

// replan asks the replanner for alternatives and takes the most confident
// one that clears the gate. One replan per task.
func (s *Scheduler) replan(cfg Config, order []string, runs map[string]*taskRun, tr *taskRun) (Alternative, bool) {
	if _, noop := s.replanner.(NoopReplanner); noop || tr.replans > 0 {
		return Alternative{}, false
	}

	state := State{Outputs: make(map[string]map[string]any)}
	for _, id := range order {
		r := runs[id]
		switch r.status {
		case core.StatusCompleted:
			state.Completed = append(state.Completed, id)
			if r.result != nil {
				state.Outputs[id] = r.result.Output
			}
		case core.StatusFailed:
			state.Failed = append(state.Failed, id)
		case core.StatusPending:
			state.Pending = append(state.Pending, id)
		}
	}

	alts := s.replanner.GenerateAlternatives(tr.task, state)
	best := Alternative{Confidence: -1}
	for _, alt := range alts {
		if alt.Confidence >= cfg.ReplanConfidence && alt.Confidence > best.Confidence {
			best = alt
		}
	}
	if best.Confidence < cfg.ReplanConfidence {
		if len(alts) > 0 {
			s.emit(bus.EventSwarmReplanFailed, "", map[string]any{
				"task":         tr.task.key(),
				"alternatives": len(alts),
			})
		}
		return Alternative{}, false
	}
	return best, true
}

func (s *Scheduler) earlyExit(cfg Config, order []string, runs map[string]*taskRun) bool {
	completed := 0
	for _, id := range order {
		if runs[id].status == core.StatusCompleted {
			completed++
		}
	}
	total := len(order)
	switch cfg.Strategy {
	case StrategyFirst:
		return completed >= 1
	case StrategyMajority:
		return float64(completed) > float64(total)/2
	case StrategyQuorum:
		return float64(completed) >= float64(total)*cfg.QuorumThreshold
	}
	return false
}

func (s *Scheduler) summarize(order []string, runs map[string]*taskRun, start time.Time) Summary {
	sum := Summary{
		Total:      len(order),
		Duration:   time.Since(start),
		ByPriority: make(map[core.PLabel]int),
	}
	for _, id := range order {
		tr := runs[id]
		label := tr.task.Priority
		if label == "" {
			label = core.P2
		}
		sum.ByPriority[label]++
		switch tr.status {
		case core.StatusCompleted:
			sum.Completed++
		case core.StatusFailed:
			sum.Failed++
		case core.StatusSkipped:
			sum.Skipped++
		case core.StatusPending:
			sum.Pending++
		}
	}
	if sum.Total > 0 {
		sum.SuccessRate = float64(sum.Completed) / float64(sum.Total) * 100
	} else {
		sum.SuccessRate = 100
	}
	return sum
}

func (s *Scheduler) output(order []string, runs map[string]*taskRun, summary Summary) map[string]any {
	results := make(map[string]*core.Result, len(order))
	outputs := make(map[string]any, len(order))
	for _, id := range order {
		tr := runs[id]
		results[id] = tr.result
		if tr.result != nil && tr.result.Success() {
			outputs[id] = tr.result.Output
		}
	}
	return map[string]any{
		"results": results,
		"outputs": outputs,
		"summary": summary,
	}
}

func (s *Scheduler) emit(name, contextID string, payload map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Emit(name, contextID, payload)
}
