package swarm

import (
	"time"

	"github.com/skeinhq/skein/internal/core"
)

// Task is one schedulable unit in a swarm DAG. ID defaults to Skill when
// empty and must be unique within the swarm. Retries is the per-task
// retry budget consumed by the failure ladder.
type Task struct {
	ID       string         `yaml:"id" json:"id"`
	Skill    string         `yaml:"skill" json:"skill"`
	Input    map[string]any `yaml:"input" json:"input,omitempty"`
	Priority core.PLabel    `yaml:"priority" json:"priority,omitempty"`
	Retries  int            `yaml:"retries" json:"retries,omitempty"`
}

func (t Task) key() string {
	if t.ID != "" {
		return t.ID
	}
	return t.Skill
}

// Strategy decides when a swarm may stop before draining the DAG.
type Strategy string

const (
	StrategyAll      Strategy = "all"
	StrategyFirst    Strategy = "first"
	StrategyMajority Strategy = "majority"
	StrategyQuorum   Strategy = "quorum"
)

// Alternative is a replanner suggestion for a failed task.
type Alternative struct {
	Task       Task
	Confidence float64
}

// State is the scheduler snapshot handed to a replanner.
type State struct {
	Completed []string
	Failed    []string
	Pending   []string
	Outputs   map[string]map[string]any
}

// Replanner proposes alternative tasks when one fails. Implementations
// must respect the scheduler's confidence gate; the default no-op
// replanner proposes nothing.
type Replanner interface {
	GenerateAlternatives(failed Task, state State) []Alternative
}

// NoopReplanner never proposes alternatives.
type NoopReplanner struct{}

func (NoopReplanner) GenerateAlternatives(Task, State) []Alternative { return nil }

// Config shapes a swarm run.
type Config struct {
	Tasks        []Task              `yaml:"tasks" json:"tasks"`
	Dependencies map[string][]string `yaml:"dependencies" json:"dependencies,omitempty"`
	Strategy     Strategy            `yaml:"strategy" json:"strategy,omitempty"`

	MaxConcurrent   int           `yaml:"max_concurrent" json:"max_concurrent,omitempty"`
	TaskTimeout     time.Duration `yaml:"task_timeout" json:"task_timeout,omitempty"`
	QuorumThreshold float64       `yaml:"quorum_threshold" json:"quorum_threshold,omitempty"`
	FallbackSkill   string        `yaml:"fallback_skill" json:"fallback_skill,omitempty"`

	// ReplanConfidence gates replanner suggestions; alternatives below
	// it are ignored.
	ReplanConfidence float64 `yaml:"replan_confidence" json:"replan_confidence,omitempty"`
}

// Summary reports the outcome of a swarm run.
type Summary struct {
	Total       int                 `json:"total"`
	Completed   int                 `json:"completed"`
	Failed      int                 `json:"failed"`
	Pending     int                 `json:"pending"`
	Skipped     int                 `json:"skipped"`
	Duration    time.Duration       `json:"duration"`
	ByPriority  map[core.PLabel]int `json:"by_priority"`
	SuccessRate float64             `json:"success_rate"`
}
