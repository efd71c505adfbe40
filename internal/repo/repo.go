package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"polyscore/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const resultColumns = `id,session_id,player_id,state,timed_out,score,percent,category,scorable,point_count,polygon_json,gt_url,first_point_at,ended_at,elapsed_ms,created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(row scanner) (domain.Result, error) {
	var res domain.Result
	var timedOut, scorable int
	var score sql.NullFloat64
	var percent sql.NullInt64
	var gtURL, firstPoint sql.NullString
	var polygon string
	err := row.Scan(&res.ID, &res.SessionID, &res.PlayerID, &res.State, &timedOut, &score, &percent, &res.Category,
		&scorable, &res.PointCount, &polygon, &gtURL, &firstPoint, &res.EndedAt, &res.ElapsedMS, &res.CreatedAt)
	if err == sql.ErrNoRows {
		return res, ErrNotFound
	}
	if err != nil {
		return res, err
	}
	res.TimedOut = timedOut != 0
	res.Scorable = scorable != 0
	if score.Valid {
		v := score.Float64
		res.Score = &v
	}
	if percent.Valid {
		v := int(percent.Int64)
		res.Percent = &v
	}
	if gtURL.Valid {
		res.GroundTruth = gtURL.String
	}
	if firstPoint.Valid {
		v := firstPoint.String
		res.FirstPointAt = &v
	}
	if err := json.Unmarshal([]byte(polygon), &res.Polygon); err != nil {
		return res, fmt.Errorf("decode polygon for result %s: %w", res.ID, err)
	}
	return res, nil
}

// InsertResult appends a completed attempt inside tx.
func (r Repo) InsertResult(ctx context.Context, tx *sql.Tx, res domain.Result) error {
	polygon, err := json.Marshal(res.Polygon)
	if err != nil {
		return fmt.Errorf("encode polygon: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO results(`+resultColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		res.ID, res.SessionID, res.PlayerID, res.State, boolInt(res.TimedOut), nullableFloatPtr(res.Score), nullableIntPtr(res.Percent),
		res.Category, boolInt(res.Scorable), res.PointCount, string(polygon), nullable(res.GroundTruth),
		nullableStringPtr(res.FirstPointAt), res.EndedAt, res.ElapsedMS, res.CreatedAt)
	return err
}

func (r Repo) GetResult(ctx context.Context, id string) (domain.Result, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM results WHERE id=?`, id)
	return scanResult(row)
}

type ResultFilters struct {
	PlayerID  string
	SessionID string
	Category  string
	Limit     int
}

// ListResults returns the newest results first.
func (r Repo) ListResults(ctx context.Context, f ResultFilters) ([]domain.Result, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.PlayerID != "" {
		clauses = append(clauses, "player_id=?")
		args = append(args, f.PlayerID)
	}
	if f.SessionID != "" {
		clauses = append(clauses, "session_id=?")
		args = append(args, f.SessionID)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM results WHERE %s ORDER BY created_at DESC, id DESC LIMIT ?`, resultColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// ResultStats aggregates a player's ledger.
type ResultStats struct {
	Attempts  int      `json:"attempts"`
	Perfect   int      `json:"perfect"`
	TimedOut  int      `json:"timed_out"`
	BestScore *float64 `json:"best_score,omitempty"`
	MeanScore *float64 `json:"mean_score,omitempty"`
}

func (r Repo) Stats(ctx context.Context, playerID string) (ResultStats, error) {
	var s ResultStats
	var best, mean sql.NullFloat64
	row := r.DB.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN category='perfect' THEN 1 ELSE 0 END),0),
		COALESCE(SUM(timed_out),0),
		MAX(score), AVG(score)
		FROM results WHERE (?='' OR player_id=?)`, playerID, playerID)
	if err := row.Scan(&s.Attempts, &s.Perfect, &s.TimedOut, &best, &mean); err != nil {
		return s, err
	}
	if best.Valid {
		s.BestScore = &best.Float64
	}
	if mean.Valid {
		s.MeanScore = &mean.Float64
	}
	return s, nil
}

type EventFilters struct {
	Type       string
	SessionID  string
	EntityKind string
	EntityID   string
}

func (r Repo) LatestEvents(ctx context.Context, limit int, f EventFilters) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, f)
}

// LatestEventsFrom returns events older than cursor, newest first.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, f EventFilters) ([]domain.Event, error) {
	clauses, args := eventClauses(f)
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT id,ts,type,session_id,entity_kind,entity_id,player_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,session_id,entity_kind,entity_id,player_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func eventClauses(f EventFilters) ([]string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.SessionID != "" {
		clauses = append(clauses, "session_id=?")
		args = append(args, f.SessionID)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	return clauses, args
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var session, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &session, &e.EntityKind, &entityID, &e.PlayerID, &payload); err != nil {
			return nil, err
		}
		e.SessionID = session.String
		e.EntityID = entityID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
