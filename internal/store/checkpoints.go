package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Checkpoint state blobs are zstd-compressed. Accumulated workflow
// context grows with every step, so the compression pays for itself on
// anything beyond trivial runs.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Checkpoint is one persisted workflow snapshot.
type Checkpoint struct {
	ID         int64          `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	StepIndex  int            `json:"step_index"`
	Name       string         `json:"name,omitempty"`
	State      map[string]any `json:"state,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// SaveCheckpoint persists a workflow snapshot.
func (s *Store) SaveCheckpoint(workflowID string, stepIndex int, name string, state map[string]any) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint state: %w", err)
	}
	compressed := zstdEncoder.EncodeAll(encoded, nil)
	_, err = s.db.Exec(`
		INSERT INTO checkpoints (workflow_id, step_index, name, state)
		VALUES (?, ?, ?, ?)`, workflowID, stepIndex, name, compressed)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Put satisfies the workflow checkpoint sink. Step index and name are
// pulled from the state map the orchestrator builds.
func (s *Store) Put(workflowID string, state map[string]any) error {
	stepIndex := 0
	if v, ok := state["stepIndex"].(int); ok {
		stepIndex = v
	}
	name, _ := state["name"].(string)
	return s.SaveCheckpoint(workflowID, stepIndex, name, state)
}

// ListCheckpoints returns a workflow's snapshots in creation order.
func (s *Store) ListCheckpoints(workflowID string) ([]Checkpoint, error) {
	rows, err := s.db.Query(`
		SELECT id, workflow_id, step_index, name, state, created_at
		FROM checkpoints WHERE workflow_id = ? ORDER BY id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var compressed []byte
		if err := rows.Scan(&cp.ID, &cp.WorkflowID, &cp.StepIndex, &cp.Name, &compressed, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		decoded, err := zstdDecoder.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress checkpoint: %w", err)
		}
		if err := json.Unmarshal(decoded, &cp.State); err != nil {
			return nil, fmt.Errorf("decode checkpoint state: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}
