package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Run is one persisted pattern execution.
type Run struct {
	ID          string         `json:"id"`
	Pattern     string         `json:"pattern"`
	Task        string         `json:"task"`
	Status      string         `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*Run, error) {
	r := &Run{}
	var input, result, errMsg *string
	err := scanner.Scan(&r.ID, &r.Pattern, &r.Task, &r.Status, &input, &result, &errMsg, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	if input != nil && *input != "" {
		if err := json.Unmarshal([]byte(*input), &r.Input); err != nil {
			return nil, fmt.Errorf("decode run input: %w", err)
		}
	}
	if result != nil && *result != "" {
		if err := json.Unmarshal([]byte(*result), &r.Result); err != nil {
			return nil, fmt.Errorf("decode run result: %w", err)
		}
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	return r, nil
}

// SaveRun inserts a new run in running state.
func (s *Store) SaveRun(r *Run) error {
	input, err := json.Marshal(r.Input)
	if err != nil {
		return fmt.Errorf("encode run input: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO runs (id, pattern, task, status, input)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pattern = excluded.pattern,
			task = excluded.task,
			status = excluded.status,
			input = excluded.input`,
		r.ID, r.Pattern, r.Task, r.Status, string(input))
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// FinishRun records the terminal status and result of a run.
func (s *Store) FinishRun(id, status string, result map[string]any, runErr string) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode run result: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE runs
		SET status = ?, result = ?, error = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?`, status, string(encoded), runErr, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, pattern, task, status, input, result, error, started_at, completed_at
		FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, pattern, task, status, input, result, error, started_at, completed_at
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}
