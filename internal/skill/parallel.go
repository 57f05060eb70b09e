package skill

import (
	"context"
	"sort"
	"sync"

	"github.com/skeinhq/skein/internal/core"
)

// PTask is one unit in a parallel batch.
type PTask struct {
	ID      string
	SkillID string
	Input   map[string]any
	Label   core.PLabel
}

func (t PTask) key() string {
	if t.ID != "" {
		return t.ID
	}
	return t.SkillID
}

// ParallelOptions tunes a parallel batch.
type ParallelOptions struct {
	// FailFast aborts the batch when a P0 task fails. Remaining tasks are
	// reported as skipped.
	FailFast bool
	Parent   *core.ExecutionContext
}

// ExecuteParallel partitions tasks by P-label and runs the groups in label
// order. P0 runs strictly sequentially and acts as a barrier; P1..P3 run
// with unordered concurrency within their group. Results of all settled
// groups merge into a single mapping keyed by task id.
func (e *Executor) ExecuteParallel(ctx context.Context, tasks []PTask, opts ParallelOptions) map[string]*core.Result {
	results := make(map[string]*core.Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	groups := make(map[core.PLabel][]PTask)
	for _, t := range tasks {
		label := t.Label
		if label == "" {
			label = core.P2
		}
		groups[label] = append(groups[label], t)
	}

	labels := make([]core.PLabel, 0, len(groups))
	for l := range groups {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Order() < labels[j].Order() })

	aborted := false
	for _, label := range labels {
		group := groups[label]
		if aborted {
			for _, t := range group {
				results[t.key()] = &core.Result{SkillID: t.SkillID, Status: core.StatusSkipped}
			}
			continue
		}

		if label == core.P0 {
			for i, t := range group {
				res := e.runParallelTask(ctx, t, opts.Parent)
				results[t.key()] = res
				if !res.Success() && opts.FailFast {
					for _, rest := range group[i+1:] {
						results[rest.key()] = &core.Result{SkillID: rest.SkillID, Status: core.StatusSkipped}
					}
					aborted = true
					break
				}
			}
			continue
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, t := range group {
			wg.Add(1)
			go func(t PTask) {
				defer wg.Done()
				res := e.runParallelTask(ctx, t, opts.Parent)
				mu.Lock()
				results[t.key()] = res
				mu.Unlock()
			}(t)
		}
		wg.Wait()
	}

	return results
}

func (e *Executor) runParallelTask(ctx context.Context, t PTask, parent *core.ExecutionContext) *core.Result {
	res, err := e.Execute(ctx, t.SkillID, t.Input, &ExecOptions{Parent: parent})
	if err != nil {
		return &core.Result{SkillID: t.SkillID, Status: core.StatusFailed, Error: err.Error()}
	}
	return res
}

// ExecuteSequential runs skills in declared order. stopOnError (the
// default) halts on the first failure; the remaining results are absent.
func (e *Executor) ExecuteSequential(ctx context.Context, tasks []PTask, stopOnError bool, parent *core.ExecutionContext) []*core.Result {
	var out []*core.Result
	for _, t := range tasks {
		res := e.runParallelTask(ctx, t, parent)
		out = append(out, res)
		if !res.Success() && stopOnError {
			break
		}
	}
	return out
}

// ExecuteWithDependencies resolves the skill's dependency order and runs
// it, shallow-merging each completed dependency's output into the input of
// the next. The returned result is the target skill's.
func (e *Executor) ExecuteWithDependencies(ctx context.Context, skillID string, input map[string]any, parent *core.ExecutionContext) (*core.Result, error) {
	order, err := e.registry.ResolveDependencies(skillID)
	if err != nil {
		return nil, err
	}

	accumulated := make(map[string]any, len(input))
	for k, v := range input {
		accumulated[k] = v
	}

	var last *core.Result
	for _, id := range order {
		stepInput := make(map[string]any, len(accumulated))
		for k, v := range accumulated {
			stepInput[k] = v
		}
		res, err := e.Execute(ctx, id, stepInput, &ExecOptions{Parent: parent})
		if err != nil {
			return nil, err
		}
		last = res
		if !res.Success() {
			return res, nil
		}
		for k, v := range res.Output {
			accumulated[k] = v
		}
	}
	return last, nil
}
