package pattern

import (
	"context"

	"github.com/skeinhq/skein/internal/core"
	"github.com/skeinhq/skein/internal/skill"
)

// SequentialStep names one skill in a linear run with an optional
// per-step input overlay.
type SequentialStep struct {
	Skill string         `yaml:"skill" json:"skill"`
	Input map[string]any `yaml:"input" json:"input,omitempty"`
}

// SequentialConfig configures a linear run. The zero value stops on the
// first failure.
type SequentialConfig struct {
	Steps           []SequentialStep `yaml:"steps" json:"steps"`
	ContinueOnError bool             `yaml:"continue_on_error" json:"continue_on_error"`
}

// Sequential runs skills in declared order, shallow-merging each completed
// step's output into the input of the next.
type Sequential struct {
	executor *skill.Executor
	cfg      SequentialConfig
}

func NewSequential(executor *skill.Executor, cfg SequentialConfig) *Sequential {
	return &Sequential{executor: executor, cfg: cfg}
}

func (s *Sequential) Name() string { return "sequential" }

func (s *Sequential) Execute(ctx context.Context, ectx *core.ExecutionContext) (map[string]any, error) {
	accumulated := make(map[string]any)
	for k, v := range ectx.Input() {
		if k == core.CancelKey {
			continue
		}
		accumulated[k] = v
	}

	var results []*core.Result
	completed, failed := 0, 0

	for _, step := range s.cfg.Steps {
		if ectx.Cancelled() {
			break
		}
		input := make(map[string]any, len(accumulated)+len(step.Input))
		for k, v := range accumulated {
			input[k] = v
		}
		for k, v := range step.Input {
			input[k] = v
		}

		res, err := s.executor.Execute(ctx, step.Skill, input, &skill.ExecOptions{Parent: ectx})
		if err != nil {
			return nil, err
		}
		results = append(results, res)
		if res.Success() {
			completed++
			for k, v := range res.Output {
				accumulated[k] = v
			}
			continue
		}
		failed++
		if !s.cfg.ContinueOnError {
			break
		}
	}

	return map[string]any{
		"output":  accumulated,
		"results": results,
		"summary": map[string]any{
			"total":     len(s.cfg.Steps),
			"completed": completed,
			"failed":    failed,
		},
	}, nil
}
