package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/maestro/pkg/models"
)

// AppendEvent records an audit event for a task. Events are append-only.
func (db *DB) AppendEvent(ev *models.TaskEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	dataJSON, err := marshalJSON(ev.Data)
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO events (task_id, event_type, event_data, step_id, tool_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.TaskID, string(ev.Type), dataJSON, nullString(ev.StepID), nullString(ev.Handler), formatTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// appendEventTx records an audit event within an open transaction so
// the event commits atomically with the state transition it describes.
func appendEventTx(tx *sql.Tx, ev *models.TaskEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	dataJSON, err := marshalJSON(ev.Data)
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO events (task_id, event_type, event_data, step_id, tool_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.TaskID, string(ev.Type), dataJSON, nullString(ev.StepID), nullString(ev.Handler), formatTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns all events for a task in chronological order.
func (db *DB) ListEvents(taskID string) ([]*models.TaskEvent, error) {
	rows, err := db.Query(`
		SELECT id, task_id, event_type, event_data, step_id, tool_name, created_at
		FROM events WHERE task_id = ? ORDER BY id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*models.TaskEvent
	for rows.Next() {
		var ev models.TaskEvent
		var data, stepID, handler sql.NullString
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.TaskID, &ev.Type, &data, &stepID, &handler, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.StepID = stepID.String
		ev.Handler = handler.String
		ev.CreatedAt, _ = parseTime(createdAt)
		if data.Valid {
			if err := json.Unmarshal([]byte(data.String), &ev.Data); err != nil {
				return nil, fmt.Errorf("decode event data: %w", err)
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// PurgeOldEvents deletes events older than the specified duration,
// the only path by which audit records are ever removed.
// Returns the number of events deleted.
func (db *DB) PurgeOldEvents(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))
	result, err := db.Exec(`DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old events: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

// nullString converts an empty string to SQL NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
