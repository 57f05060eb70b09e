package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ScheduledRun is a recurring or one-shot pattern execution.
type ScheduledRun struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Pattern    string         `json:"pattern"`
	Task       string         `json:"task"`
	Input      map[string]any `json:"input,omitempty"`
	Schedule   string         `json:"schedule"`
	Status     string         `json:"status"`
	NextRunAt  *time.Time     `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time     `json:"last_run_at,omitempty"`
	LastStatus string         `json:"last_status,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func scanScheduledRun(scanner interface {
	Scan(dest ...any) error
}) (*ScheduledRun, error) {
	r := &ScheduledRun{}
	var input, lastStatus, lastError *string
	err := scanner.Scan(&r.ID, &r.Name, &r.Pattern, &r.Task, &input, &r.Schedule, &r.Status,
		&r.NextRunAt, &r.LastRunAt, &lastStatus, &lastError, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if input != nil && *input != "" {
		if err := json.Unmarshal([]byte(*input), &r.Input); err != nil {
			return nil, fmt.Errorf("decode scheduled input: %w", err)
		}
	}
	if lastStatus != nil {
		r.LastStatus = *lastStatus
	}
	if lastError != nil {
		r.LastError = *lastError
	}
	return r, nil
}

func (s *Store) SaveScheduledRun(r *ScheduledRun) error {
	input, err := json.Marshal(r.Input)
	if err != nil {
		return fmt.Errorf("encode scheduled input: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO scheduled_runs (id, name, pattern, task, input, schedule, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			pattern = excluded.pattern,
			task = excluded.task,
			input = excluded.input,
			schedule = excluded.schedule,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		r.ID, r.Name, r.Pattern, r.Task, string(input), r.Schedule, r.Status, r.NextRunAt)
	if err != nil {
		return fmt.Errorf("save scheduled run: %w", err)
	}
	return nil
}

func (s *Store) GetScheduledRun(id string) (*ScheduledRun, error) {
	row := s.db.QueryRow(`
		SELECT id, name, pattern, task, input, schedule, status,
		       next_run_at, last_run_at, last_status, last_error, created_at
		FROM scheduled_runs WHERE id = ?`, id)
	r, err := scanScheduledRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled run: %w", err)
	}
	return r, nil
}

func (s *Store) ListScheduledRuns() ([]ScheduledRun, error) {
	rows, err := s.db.Query(`
		SELECT id, name, pattern, task, input, schedule, status,
		       next_run_at, last_run_at, last_status, last_error, created_at
		FROM scheduled_runs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled runs: %w", err)
	}
	defer rows.Close()

	var runs []ScheduledRun
	for rows.Next() {
		r, err := scanScheduledRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetDueRuns returns active schedules whose next run time has passed.
func (s *Store) GetDueRuns(now time.Time) ([]ScheduledRun, error) {
	rows, err := s.db.Query(`
		SELECT id, name, pattern, task, input, schedule, status,
		       next_run_at, last_run_at, last_status, last_error, created_at
		FROM scheduled_runs
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("get due runs: %w", err)
	}
	defer rows.Close()

	var runs []ScheduledRun
	for rows.Next() {
		r, err := scanScheduledRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// UpdateRunOutcome records the result of one scheduled firing and the
// next wakeup. A nil nextRunAt retires the schedule from polling.
func (s *Store) UpdateRunOutcome(id string, lastStatus string, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE scheduled_runs
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, next_run_at = ?
		WHERE id = ?`, lastStatus, lastError, nextRunAt, id)
	return err
}

func (s *Store) UpdateScheduleStatus(id string, status string) error {
	_, err := s.db.Exec(`UPDATE scheduled_runs SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *Store) DeleteScheduledRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_runs WHERE id = ?`, id)
	return err
}
