package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Entry is one event to append.
type Entry struct {
	Type       string
	SessionID  string
	EntityKind string
	EntityID   string
	PlayerID   string
	Payload    EventPayload
}

// Append writes e inside tx and returns the new event id.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) (int64, error) {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339Nano)
	payload := e.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,session_id,entity_kind,entity_id,player_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, e.Type, nullable(e.SessionID), e.EntityKind, nullable(e.EntityID), e.PlayerID, string(data))
	if err != nil {
		return 0, fmt.Errorf("append event %s: %w", e.Type, err)
	}
	return res.LastInsertId()
}

// AppendOne appends e in its own transaction.
func (w Writer) AppendOne(ctx context.Context, e Entry) (int64, error) {
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	id, err := w.Append(ctx, tx, e)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
