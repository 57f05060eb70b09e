package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/skeinhq/skein/internal/bus"
)

// StoredEvent is one archived bus event.
type StoredEvent struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	ContextID string         `json:"context_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AppendEvent archives one event.
func (s *Store) AppendEvent(name, contextID string, payload map[string]any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO run_events (name, context_id, payload)
		VALUES (?, ?, ?)`, name, contextID, string(encoded))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns archived events for a context in append order.
func (s *Store) ListEvents(contextID string, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(`
		SELECT id, name, context_id, payload, created_at
		FROM run_events WHERE context_id = ? ORDER BY id LIMIT ?`, contextID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		var payload *string
		if err := rows.Scan(&ev.ID, &ev.Name, &ev.ContextID, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if payload != nil && *payload != "" {
			if err := json.Unmarshal([]byte(*payload), &ev.Payload); err != nil {
				return nil, fmt.Errorf("decode event payload: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Archive subscribes to every bus event and persists it. Returns the
// unsubscribe function. Archive failures are logged, never propagated,
// so a full disk cannot stall the emitting goroutine.
func (s *Store) Archive(b *bus.Bus) func() {
	return b.SubscribeAll(func(ev bus.Event) {
		if err := s.AppendEvent(ev.Name, ev.ContextID, ev.Payload); err != nil {
			slog.Error("archive event", "event", ev.Name, "error", err)
		}
	})
}
