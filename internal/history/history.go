// Package history persists collaboration activity to SQLite so sessions can
// be audited and webhooks replayed after a restart.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"gridwell/internal/domain"
)

// Writer records changes and session events. It satisfies the collaboration
// engine's journal hook.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) now() string {
	if w.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return w.Now().UTC().Format(time.RFC3339)
}

// RecordChange appends one grid change to the durable log.
func (w Writer) RecordChange(change domain.GridChange) error {
	oldJSON, err := json.Marshal(change.OldValue)
	if err != nil {
		return fmt.Errorf("marshal old value: %w", err)
	}
	newJSON, err := json.Marshal(change.NewValue)
	if err != nil {
		return fmt.Errorf("marshal new value: %w", err)
	}
	_, err = w.DB.Exec(`INSERT INTO changes(change_id,session_id,change_type,row_idx,col_idx,user_id,ts_millis,old_value,new_value) VALUES (?,?,?,?,?,?,?,?,?)`,
		change.ID, change.SessionID, change.Type, change.Position.Row, change.Position.Col,
		change.UserID, change.Timestamp, string(oldJSON), string(newJSON))
	return err
}

// RecordSessionEvent appends one lifecycle event (join, leave, destroy).
func (w Writer) RecordSessionEvent(eventType, sessionID, userID string) error {
	payload, err := json.Marshal(map[string]string{"session_id": sessionID, "user_id": userID})
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.Exec(`INSERT INTO session_events(ts,type,session_id,user_id,payload_json) VALUES (?,?,?,?,?)`,
		w.now(), eventType, sessionID, userID, string(payload))
	return err
}

// Event is one recorded session lifecycle event, read back by the dispatcher.
type Event struct {
	ID          int64
	TS          string
	Type        string
	SessionID   string
	UserID      string
	PayloadJSON string
}

// EventsAfter returns up to limit events with id greater than afterID, oldest
// first. The dispatcher uses it as a polling cursor.
func EventsAfter(db *sql.DB, afterID int64, limit int) ([]Event, error) {
	rows, err := db.Query(`SELECT id,ts,type,session_id,user_id,payload_json FROM session_events WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.SessionID, &e.UserID, &e.PayloadJSON); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestEventID returns the id of the newest session event, or 0 when empty.
func LatestEventID(db *sql.DB) (int64, error) {
	var id int64
	err := db.QueryRow(`SELECT COALESCE(MAX(id),0) FROM session_events`).Scan(&id)
	return id, err
}

// ChangesForSession returns a session's recorded changes in append order.
func ChangesForSession(db *sql.DB, sessionID string) ([]domain.GridChange, error) {
	rows, err := db.Query(`SELECT change_id,session_id,change_type,row_idx,col_idx,user_id,ts_millis,old_value,new_value FROM changes WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.GridChange
	for rows.Next() {
		var oldJSON, newJSON string
		var ch domain.GridChange
		if err := rows.Scan(&ch.ID, &ch.SessionID, &ch.Type, &ch.Position.Row, &ch.Position.Col, &ch.UserID, &ch.Timestamp, &oldJSON, &newJSON); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(oldJSON), &ch.OldValue)
		_ = json.Unmarshal([]byte(newJSON), &ch.NewValue)
		out = append(out, ch)
	}
	return out, rows.Err()
}
