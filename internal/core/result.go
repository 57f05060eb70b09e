package core

import "time"

// Result is the outcome of one executor invocation.
type Result struct {
	SkillID   string         `json:"skill_id"`
	Status    Status         `json:"status"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Duration  time.Duration  `json:"duration"`
	Attempts  int            `json:"attempts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Success reports whether the execution completed.
func (r *Result) Success() bool { return r.Status == StatusCompleted }
