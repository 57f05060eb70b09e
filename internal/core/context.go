package core

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CancelKey is the reserved input key under which the executor exposes the
// context's abort channel to handlers. Handlers observe cancellation by
// selecting on it.
const CancelKey = "_cancel"

// ErrTerminal indicates a state transition was attempted on a context that
// already reached a final status.
var ErrTerminal = errors.New("execution context already terminal")

// ExecutionContext carries one unit of work through the engine. Identity
// fields are immutable; the rest is guarded by the mutex. A context owns
// its children: cancelling a parent cancels all descendants.
type ExecutionContext struct {
	ID        string
	ParentID  string
	CreatedAt time.Time

	mu        sync.RWMutex
	status    Status
	task      string
	skill     string
	input     map[string]any
	output    any
	err       error
	children  []*ExecutionContext
	metadata  map[string]any
	priority  Priority
	startTime time.Time
	endTime   time.Time

	cancelOnce sync.Once
	cancelCh   chan struct{}
}

// NewContext creates a pending context. parentID may be empty for roots.
func NewContext(task, parentID string) *ExecutionContext {
	return &ExecutionContext{
		ID:        uuid.New().String(),
		ParentID:  parentID,
		CreatedAt: time.Now(),
		status:    StatusPending,
		task:      task,
		input:     make(map[string]any),
		metadata:  make(map[string]any),
		priority:  PriorityMedium,
		cancelCh:  make(chan struct{}),
	}
}

// Start transitions pending -> running and stamps the start time.
func (c *ExecutionContext) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Terminal() {
		return ErrTerminal
	}
	c.status = StatusRunning
	c.startTime = time.Now()
	return nil
}

// Complete is a terminal setter. It fails on an already-terminal context.
func (c *ExecutionContext) Complete(output any) error {
	return c.finish(StatusCompleted, output, nil)
}

// Fail is a terminal setter. It fails on an already-terminal context.
func (c *ExecutionContext) Fail(err error) error {
	return c.finish(StatusFailed, nil, err)
}

func (c *ExecutionContext) finish(st Status, output any, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Terminal() {
		return ErrTerminal
	}
	c.status = st
	c.output = output
	c.err = err
	c.endTime = time.Now()
	return nil
}

// Cancel marks the context cancelled unless it already reached a terminal
// state, closes the abort channel, and cancels all descendants depth-first.
func (c *ExecutionContext) Cancel() {
	c.mu.Lock()
	if !c.status.Terminal() {
		c.status = StatusCancelled
		c.endTime = time.Now()
	}
	children := make([]*ExecutionContext, len(c.children))
	copy(children, c.children)
	c.mu.Unlock()

	c.cancelOnce.Do(func() { close(c.cancelCh) })
	for _, child := range children {
		child.Cancel()
	}
}

// Done returns the abort channel, closed on cancellation.
func (c *ExecutionContext) Done() <-chan struct{} { return c.cancelCh }

// Cancelled reports whether the abort channel has been closed.
func (c *ExecutionContext) Cancelled() bool {
	select {
	case <-c.cancelCh:
		return true
	default:
		return false
	}
}

// AddChild appends a sub-context and links its parent id.
func (c *ExecutionContext) AddChild(child *ExecutionContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	child.ParentID = c.ID
	c.children = append(c.children, child)
}

// Child creates, links, and returns a sub-context for the given task.
func (c *ExecutionContext) Child(task string) *ExecutionContext {
	child := NewContext(task, c.ID)
	c.AddChild(child)
	return child
}

func (c *ExecutionContext) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *ExecutionContext) Task() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.task
}

func (c *ExecutionContext) SetTask(task string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.task = task
}

func (c *ExecutionContext) Skill() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.skill
}

func (c *ExecutionContext) SetSkill(skill string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skill = skill
}

// Input returns a copy of the input map with the abort channel exposed
// under CancelKey.
func (c *ExecutionContext) Input() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.input)+1)
	for k, v := range c.input {
		out[k] = v
	}
	out[CancelKey] = (<-chan struct{})(c.cancelCh)
	return out
}

func (c *ExecutionContext) SetInput(input map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = make(map[string]any, len(input))
	for k, v := range input {
		if k == CancelKey {
			continue
		}
		c.input[k] = v
	}
}

func (c *ExecutionContext) Output() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.output
}

func (c *ExecutionContext) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *ExecutionContext) Priority() Priority {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.priority
}

func (c *ExecutionContext) SetPriority(p Priority) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.priority = p
}

// SetMeta stores a pattern-scoped annotation.
func (c *ExecutionContext) SetMeta(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

func (c *ExecutionContext) Meta(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.metadata[key]
	return v, ok
}

func (c *ExecutionContext) Children() []*ExecutionContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*ExecutionContext, len(c.children))
	copy(out, c.children)
	return out
}

// Snapshot is the serializable view of a context tree node.
type Snapshot struct {
	ID        string     `json:"id"`
	ParentID  string     `json:"parent_id,omitempty"`
	Status    Status     `json:"status"`
	Task      string     `json:"task,omitempty"`
	Skill     string     `json:"skill,omitempty"`
	Priority  Priority   `json:"priority"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Children  []Snapshot `json:"children,omitempty"`
}

// Snapshot returns a copy of the context tree for reporting.
func (c *ExecutionContext) Snapshot() Snapshot {
	c.mu.RLock()
	snap := Snapshot{
		ID:        c.ID,
		ParentID:  c.ParentID,
		Status:    c.status,
		Task:      c.task,
		Skill:     c.skill,
		Priority:  c.priority,
		CreatedAt: c.CreatedAt,
	}
	if c.err != nil {
		snap.Error = c.err.Error()
	}
	children := make([]*ExecutionContext, len(c.children))
	copy(children, c.children)
	c.mu.RUnlock()

	for _, child := range children {
		snap.Children = append(snap.Children, child.Snapshot())
	}
	return snap
}
