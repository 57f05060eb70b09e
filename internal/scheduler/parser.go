package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// Schedule kinds.
const (
	KindCron     = "cron"
	KindInterval = "interval"
	KindOnce     = "once"
)

// Schedule is the JSON schedule format stored with a scheduled run.
// Exactly one of the kind-specific fields is meaningful.
type Schedule struct {
	Kind       string `json:"kind"`
	CronExpr   string `json:"cron_expr,omitempty"`
	IntervalMs int64  `json:"interval_ms,omitempty"`
	AtMs       int64  `json:"at_ms,omitempty"`
}

func ParseSchedule(raw string) (*Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	return &s, nil
}

// NextRun returns the next firing time after now, or nil when the schedule
// is spent or invalid.
func (s *Schedule) NextRun(now time.Time) *time.Time {
	switch s.Kind {
	case KindCron:
		next, err := gronx.NextTick(s.CronExpr, false)
		if err != nil {
			return nil
		}
		return &next
	case KindInterval:
		if s.IntervalMs <= 0 {
			return nil
		}
		next := now.Add(time.Duration(s.IntervalMs) * time.Millisecond)
		return &next
	case KindOnce:
		at := time.UnixMilli(s.AtMs)
		if !at.After(now) {
			return nil
		}
		return &at
	}
	return nil
}

// CalculateNextRun parses the stored schedule JSON and returns the next
// firing time, or nil when the schedule is spent or unparseable.
func CalculateNextRun(scheduleJSON string) *time.Time {
	s, err := ParseSchedule(scheduleJSON)
	if err != nil {
		return nil
	}
	return s.NextRun(time.Now())
}
