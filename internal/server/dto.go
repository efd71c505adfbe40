package server

import (
	"encoding/json"
	"time"

	"polyscore/internal/domain"
	"polyscore/internal/repo"
)

// Request payloads

type StartSessionRequest struct {
	ImageW         float64 `json:"image_w,omitempty" minimum:"0" maximum:"16384" doc:"Natural image width; falls back to the configured image"`
	ImageH         float64 `json:"image_h,omitempty" minimum:"0" maximum:"16384"`
	ContainerW     float64 `json:"container_w,omitempty" minimum:"0" maximum:"16384"`
	ContainerH     float64 `json:"container_h,omitempty" minimum:"0" maximum:"16384"`
	GroundTruthURL string  `json:"ground_truth_url,omitempty" doc:"One of ground_truth.allowed_urls; defaults to the annotation-mode ground truth"`
}

type ClickRequest struct {
	X  float64    `json:"x" doc:"Container-relative x in pixels"`
	Y  float64    `json:"y" doc:"Container-relative y in pixels"`
	At *time.Time `json:"at,omitempty" doc:"Client click time, used for double-click detection"`
}

type KeyRequest struct {
	Key string `json:"key" minLength:"1" example:"Enter" doc:"d deletes the last point, Enter closes the polygon"`
}

type WheelRequest struct {
	DeltaY float64 `json:"delta_y"`
	Ctrl   bool    `json:"ctrl,omitempty" doc:"Zoom only applies while a modifier is held"`
}

type ViewportRequest struct {
	ContainerW float64 `json:"container_w,omitempty" minimum:"0" maximum:"16384"`
	ContainerH float64 `json:"container_h,omitempty" minimum:"0" maximum:"16384"`
	ImageW     float64 `json:"image_w,omitempty" minimum:"0" maximum:"16384"`
	ImageH     float64 `json:"image_h,omitempty" minimum:"0" maximum:"16384"`
}

// Response payloads

type HealthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
}

type WhoAmIResponse struct {
	PlayerID string `json:"player_id"`
	Source   string `json:"source" enum:"jwt,player_key,anonymous"`
}

type LeaveResponse struct {
	Session domain.Session `json:"session"`
	Reason  string         `json:"reason" enum:"ack,cancel"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	PlayerID   string         `json:"player_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type resultList struct {
	Items []domain.Result `json:"items"`
}

type statsResponse struct {
	PlayerID string `json:"player_id,omitempty"`
	repo.ResultStats
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		SessionID:  e.SessionID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		PlayerID:   e.PlayerID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
