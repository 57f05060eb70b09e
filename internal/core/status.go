// Package core holds the execution primitives shared by the executor,
// the patterns, and the swarm scheduler.
package core

// Status is the lifecycle state of an execution context or result.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout, StatusSkipped:
		return true
	}
	return false
}

// Priority is the coarse context priority.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// PLabel is the scheduling priority tag used by the swarm scheduler and
// the executor's parallel groups. P0 orders before P1, and so on.
type PLabel string

const (
	P0 PLabel = "P0"
	P1 PLabel = "P1"
	P2 PLabel = "P2"
	P3 PLabel = "P3"
)

// Order returns the numeric rank of the label for sorting. Unknown labels
// rank after P3.
func (p PLabel) Order() int {
	switch p {
	case P0:
		return 0
	case P1:
		return 1
	case P2:
		return 2
	case P3:
		return 3
	}
	return 4
}
