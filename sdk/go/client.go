package polyscoresdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Polyscore HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	// PlayerID is sent as X-Player-Id when the server allows anonymous play.
	PlayerID   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Point is a canonical annotation coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Feedback is the end-of-attempt message.
type Feedback struct {
	Category     string `json:"category"`
	Percent      *int   `json:"percent,omitempty"`
	Headline     string `json:"headline"`
	Detail       string `json:"detail"`
	Flash        bool   `json:"flash"`
	FlashDelayMS int64  `json:"flash_delay_ms,omitempty"`
}

// Result is a completed attempt.
type Result struct {
	ID         string   `json:"id"`
	SessionID  string   `json:"session_id"`
	PlayerID   string   `json:"player_id"`
	State      string   `json:"state"`
	TimedOut   bool     `json:"timed_out"`
	Score      *float64 `json:"score,omitempty"`
	Percent    *int     `json:"percent,omitempty"`
	Category   string   `json:"category"`
	Scorable   bool     `json:"scorable"`
	PointCount int      `json:"point_count"`
	Polygon    []Point  `json:"polygon"`
	EndedAt    string   `json:"ended_at"`
	ElapsedMS  int64    `json:"elapsed_ms"`
	CreatedAt  string   `json:"created_at"`
}

// Session represents the API session snapshot (partial).
type Session struct {
	ID           string    `json:"id"`
	PlayerID     string    `json:"player_id"`
	State        string    `json:"state"`
	Points       []Point   `json:"points"`
	HasAttempted bool      `json:"has_attempted"`
	TimerArmed   bool      `json:"timer_armed"`
	DeadlineAt   *string   `json:"deadline_at,omitempty"`
	Feedback     *Feedback `json:"feedback,omitempty"`
	Result       *Result   `json:"result,omitempty"`
	Notice       string    `json:"notice,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	PlayerID   string         `json:"player_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is taken from the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StartOptions sizes a new session. Zero values use the server's configuration.
type StartOptions struct {
	ImageW         float64 `json:"image_w,omitempty"`
	ImageH         float64 `json:"image_h,omitempty"`
	ContainerW     float64 `json:"container_w,omitempty"`
	ContainerH     float64 `json:"container_h,omitempty"`
	GroundTruthURL string  `json:"ground_truth_url,omitempty"`
}

// StartSession enters annotation mode.
func (c *Client) StartSession(ctx context.Context, opts StartOptions) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "sessions", opts, &resp)
	return resp, err
}

// Session fetches a snapshot.
func (c *Client) Session(ctx context.Context, id string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, c.sessionPath(id, ""), nil, &resp)
	return resp, err
}

// Restart re-enters annotation mode.
func (c *Client) Restart(ctx context.Context, id string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(id, "restart"), nil, &resp)
	return resp, err
}

// Click sends a container-relative click. at may be zero.
func (c *Client) Click(ctx context.Context, id string, x, y float64, at time.Time) (Session, error) {
	body := map[string]any{"x": x, "y": y}
	if !at.IsZero() {
		body["at"] = at.UTC().Format(time.RFC3339Nano)
	}
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(id, "clicks"), body, &resp)
	return resp, err
}

// Key sends a key press ("d" or "Enter").
func (c *Client) Key(ctx context.Context, id, key string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(id, "keys"), map[string]any{"key": key}, &resp)
	return resp, err
}

// Wheel sends a scroll gesture.
func (c *Client) Wheel(ctx context.Context, id string, deltaY float64, ctrl bool) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(id, "wheel"), map[string]any{"delta_y": deltaY, "ctrl": ctrl}, &resp)
	return resp, err
}

// Resize reports a new container size.
func (c *Client) Resize(ctx context.Context, id string, w, h float64) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(id, "viewport"), map[string]any{"container_w": w, "container_h": h}, &resp)
	return resp, err
}

// Ack acknowledges the result and leaves annotation mode.
func (c *Client) Ack(ctx context.Context, id string) (Session, error) {
	var resp struct {
		Session Session `json:"session"`
	}
	err := c.do(ctx, http.MethodPost, c.sessionPath(id, "ack"), nil, &resp)
	return resp.Session, err
}

// Cancel leaves annotation mode without acknowledging.
func (c *Client) Cancel(ctx context.Context, id string) (Session, error) {
	var resp struct {
		Session Session `json:"session"`
	}
	err := c.do(ctx, http.MethodDelete, c.sessionPath(id, ""), nil, &resp)
	return resp.Session, err
}

// Overlay downloads the rendered overlay PNG.
func (c *Client) Overlay(ctx context.Context, id string, w io.Writer) error {
	return c.do(ctx, http.MethodGet, c.sessionPath(id, "overlay.png"), nil, w)
}

// Results lists completed attempts for a player ("me" for the caller).
func (c *Client) Results(ctx context.Context, playerID string, limit int) ([]Result, error) {
	q := url.Values{}
	if playerID != "" {
		q.Set("player_id", playerID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := "results"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Result `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// do sends the request. out may be nil, an io.Writer for raw bodies, or a
// value to decode JSON into.
func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.PlayerID != "":
		req.Header.Set("X-Player-Id", c.PlayerID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	switch dst := out.(type) {
	case nil:
		return nil
	case io.Writer:
		_, err := io.Copy(dst, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	return apiErr
}

func (c *Client) sessionPath(id, sub string) string {
	p := "sessions/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if bp := strings.Trim(c.BasePath, "/"); bp != "" {
		base += "/" + bp
	}
	return base
}
