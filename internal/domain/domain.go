package domain

import (
	"polyscore/internal/geometry"
	"polyscore/internal/result"
	"polyscore/internal/viewport"
)

// Event types appended to the event log.
const (
	EventSessionStarted   = "session.started"
	EventSessionRestarted = "session.restarted"
	EventSessionLeft      = "session.left"
	EventAttemptClosed    = "attempt.closed"
	EventAttemptTimedOut  = "attempt.timed_out"
)

// Result is one completed attempt in the ledger.
type Result struct {
	ID           string           `json:"id"`
	SessionID    string           `json:"session_id"`
	PlayerID     string           `json:"player_id"`
	State        string           `json:"state" enum:"closed,timed_out"`
	TimedOut     bool             `json:"timed_out"`
	Score        *float64         `json:"score,omitempty"`
	Percent      *int             `json:"percent,omitempty"`
	Category     string           `json:"category" enum:"timeout_partial,timeout,perfect,scored"`
	Scorable     bool             `json:"scorable"`
	PointCount   int              `json:"point_count"`
	Polygon      geometry.Polygon `json:"polygon"`
	GroundTruth  string           `json:"ground_truth_url,omitempty"`
	FirstPointAt *string          `json:"first_point_at,omitempty" format:"date-time"`
	EndedAt      string           `json:"ended_at" format:"date-time"`
	ElapsedMS    int64            `json:"elapsed_ms"`
	CreatedAt    string           `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	PlayerID   string `json:"player_id"`
	Payload    string `json:"payload_json"`
}

// Session is the externally visible view of a live game session.
type Session struct {
	ID           string           `json:"id"`
	PlayerID     string           `json:"player_id"`
	State        string           `json:"state" enum:"idle,drawing,closed,timed_out"`
	Points       geometry.Polygon `json:"points"`
	HasAttempted bool             `json:"has_attempted"`
	FirstPointAt *string          `json:"first_point_at,omitempty" format:"date-time"`
	TimerArmed   bool             `json:"timer_armed"`
	DeadlineAt   *string          `json:"deadline_at,omitempty" format:"date-time"`
	Viewport     viewport.State   `json:"viewport"`
	Image        viewport.Size    `json:"image"`
	Container    viewport.Size    `json:"container"`
	GroundTruth  GroundTruthInfo  `json:"ground_truth"`
	Feedback     *result.Feedback `json:"feedback,omitempty"`
	Result       *Result          `json:"result,omitempty"`
	Notice       string           `json:"notice,omitempty"`
	CreatedAt    string           `json:"created_at" format:"date-time"`
	UpdatedAt    string           `json:"updated_at" format:"date-time"`
}

// GroundTruthInfo summarizes the loaded ground truth for a session.
type GroundTruthInfo struct {
	URL      string `json:"url"`
	Loaded   bool   `json:"loaded"`
	Objects  int    `json:"objects"`
	Scorable int    `json:"scorable"`
}

// PlayerKey is a long-lived credential for scripted clients. Only the hash is stored.
type PlayerKey struct {
	ID        string  `json:"id"`
	PlayerID  string  `json:"player_id"`
	Name      string  `json:"name,omitempty"`
	KeyHash   string  `json:"-"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	RevokedAt *string `json:"revoked_at,omitempty" format:"date-time"`
}
