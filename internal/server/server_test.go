package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"polyscore/internal/config"
	"polyscore/internal/db"
	"polyscore/internal/domain"
	"polyscore/internal/engine"
	"polyscore/internal/migrate"
	"polyscore/internal/repo"
	"polyscore/internal/timing"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	Sched  *timing.Manual
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, auth AuthConfig, mutate func(*config.Config)) *testServer {
	t.Helper()
	workspace := t.TempDir()
	assetsDir := filepath.Join(workspace, "assets")
	if err := os.MkdirAll(assetsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	gt := `{"objects":[{"label":"square","points":[[0,0],[100,0],[100,100],[0,100]]}]}`
	if err := os.WriteFile(filepath.Join(assetsDir, "animal_segmentation_gt.json"), []byte(gt), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.GroundTruth.AssetsDir = workspace
	cfg.Image.Source = ""
	if mutate != nil {
		mutate(cfg)
	}
	conn, err := db.Open(context.Background(), workspace)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg, quietLogger())
	e.Now = steppingClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)
	sched := timing.NewManual()
	e.Scheduler = sched
	if auth.JWTSecret == "" {
		auth.JWTSecret = testSecret
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Sched:  sched,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			e.Shutdown()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

// steppingClock advances by step on every read so consecutive clicks never
// land inside the double-click window.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

func anonymousServer(t *testing.T) *testServer {
	return newTestServer(t, AuthConfig{AllowAnonymous: true}, nil)
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return out
}

func expectError(t *testing.T, res *http.Response, data []byte, status int, code string) {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("expected status %d, got %d: %s", status, res.StatusCode, string(data))
	}
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("error envelope: %v (%s)", err, string(data))
	}
	if env.Error.Code != code {
		t.Fatalf("expected code %s, got %+v", code, env.Error)
	}
}

// startSession opens a session with a 200x200 image in a 100x100 container.
func startSession(t *testing.T, srv *testServer, headers map[string]string) domain.Session {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions", map[string]any{
		"image_w":     200,
		"image_h":     200,
		"container_w": 100,
		"container_h": 100,
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start session status %d: %s", res.StatusCode, string(data))
	}
	return decode[domain.Session](t, data)
}

func clickAll(t *testing.T, srv *testServer, id string, headers map[string]string, pts [][2]float64) domain.Session {
	t.Helper()
	var s domain.Session
	for _, p := range pts {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+id+"/clicks", map[string]any{"x": p[0], "y": p[1]}, headers)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("click status %d: %s", res.StatusCode, string(data))
		}
		s = decode[domain.Session](t, data)
	}
	return s
}

var alice = map[string]string{"X-Player-Id": "alice"}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t, AuthConfig{}, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"status":"ok"`) {
		t.Fatalf("health %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions", map[string]any{}, nil)
	expectError(t, res, data, http.StatusUnauthorized, "unauthorized")
}

func TestSessionFlowPerfect(t *testing.T) {
	srv := anonymousServer(t)
	s := startSession(t, srv, alice)
	if s.PlayerID != "alice" || s.State != "idle" || !s.GroundTruth.Loaded {
		t.Fatalf("unexpected session %+v", s)
	}
	s = clickAll(t, srv, s.ID, alice, [][2]float64{{0, 0}, {50, 0}, {50, 50}, {0, 50}})
	if len(s.Points) != 4 || s.Points[2].X != 100 || !s.TimerArmed {
		t.Fatalf("unexpected drawing state %+v", s)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+s.ID+"/keys", map[string]any{"key": "Enter"}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("close status %d: %s", res.StatusCode, string(data))
	}
	s = decode[domain.Session](t, data)
	if s.State != "closed" || s.Feedback == nil || s.Feedback.Category != "perfect" || s.Feedback.Flash {
		t.Fatalf("expected perfect close, got %+v", s)
	}
	if s.Result == nil || *s.Result.Percent != 100 {
		t.Fatalf("missing result %+v", s.Result)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/results?player_id=me", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("results status %d: %s", res.StatusCode, string(data))
	}
	list := decode[resultList](t, data)
	if len(list.Items) != 1 || list.Items[0].ID != s.Result.ID {
		t.Fatalf("unexpected results %+v", list)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/results/stats?player_id=alice", nil, alice)
	stats := decode[statsResponse](t, data)
	if res.StatusCode != http.StatusOK || stats.Attempts != 1 || stats.Perfect != 1 {
		t.Fatalf("unexpected stats %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+s.ID+"/ack", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ack status %d: %s", res.StatusCode, string(data))
	}
	left := decode[LeaveResponse](t, data)
	if left.Reason != "ack" || left.Session.State != "closed" {
		t.Fatalf("unexpected leave %+v", left)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/sessions/"+s.ID, nil, alice)
	expectError(t, res, data, http.StatusNotFound, "not_found")
}

func TestCloseNeedsThreePoints(t *testing.T) {
	srv := anonymousServer(t)
	s := startSession(t, srv, alice)
	clickAll(t, srv, s.ID, alice, [][2]float64{{0, 0}, {50, 0}})
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+s.ID+"/keys", map[string]any{"key": "Enter"}, alice)
	expectError(t, res, data, http.StatusUnprocessableEntity, "need_more_points")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/sessions/"+s.ID, nil, alice)
	s = decode[domain.Session](t, data)
	if res.StatusCode != http.StatusOK || s.State != "drawing" || len(s.Points) != 2 || s.Notice != "Need 3+ points" {
		t.Fatalf("points must be unchanged: %+v", s)
	}
}

func TestTimeoutEndsAttempt(t *testing.T) {
	srv := anonymousServer(t)
	s := startSession(t, srv, alice)
	clickAll(t, srv, s.ID, alice, [][2]float64{{0, 0}, {25, 0}, {25, 25}})
	if fired := srv.Sched.Advance(srv.Engine.Config.Timeout()); fired != 1 {
		t.Fatalf("expected countdown to fire, fired %d", fired)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/sessions/"+s.ID, nil, alice)
	s = decode[domain.Session](t, data)
	if res.StatusCode != http.StatusOK || s.State != "timed_out" || s.Feedback == nil || s.Feedback.Category != "timeout_partial" {
		t.Fatalf("expected partial timeout, got %s", string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+s.ID+"/clicks", map[string]any{"x": 1, "y": 1}, alice)
	expectError(t, res, data, http.StatusConflict, "attempt_over")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?type=attempt.timed_out", nil, alice)
	events := decode[paginatedEvents](t, data)
	if res.StatusCode != http.StatusOK || len(events.Items) != 1 || events.Items[0].Payload["category"] != "timeout_partial" {
		t.Fatalf("expected timed out event, got %s", string(data))
	}
}

func TestSessionsArePerPlayer(t *testing.T) {
	srv := anonymousServer(t)
	s := startSession(t, srv, alice)
	bob := map[string]string{"X-Player-Id": "bob"}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/sessions/"+s.ID, nil, bob)
	expectError(t, res, data, http.StatusNotFound, "not_found")
	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/sessions/"+s.ID, nil, bob)
	expectError(t, res, data, http.StatusNotFound, "not_found")
	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/sessions/"+s.ID, nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cancel status %d: %s", res.StatusCode, string(data))
	}
}

func TestJWTAndPlayerKeyAuth(t *testing.T) {
	srv := newTestServer(t, AuthConfig{Issuer: "polyscore"}, nil)
	token, err := SignToken(testSecret, "polyscore", "carol", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + token})
	who := decode[WhoAmIResponse](t, data)
	if res.StatusCode != http.StatusOK || who.PlayerID != "carol" || who.Source != "jwt" {
		t.Fatalf("unexpected me %d %s", res.StatusCode, string(data))
	}

	bad, _ := SignToken("other-secret", "polyscore", "carol", time.Hour, time.Now())
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + bad})
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	key := domain.PlayerKey{ID: "k1", PlayerID: "bot", KeyHash: repo.HashKey("replay-key")}
	if err := srv.Engine.Repo.InsertPlayerKey(context.Background(), key); err != nil {
		t.Fatalf("insert key: %v", err)
	}
	s := startSession(t, srv, map[string]string{"X-Api-Key": "replay-key"})
	if s.PlayerID != "bot" {
		t.Fatalf("expected player key owner, got %q", s.PlayerID)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "wrong"})
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")
}

func TestOverlayPNG(t *testing.T) {
	srv := anonymousServer(t)
	s := startSession(t, srv, alice)
	clickAll(t, srv, s.ID, alice, [][2]float64{{10, 10}, {40, 10}})
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/sessions/"+s.ID+"/overlay.png", nil)
	req.Header.Set("X-Player-Id", "alice")
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("overlay: %v", err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK || res.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("overlay %d %s", res.StatusCode, res.Header.Get("Content-Type"))
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Fatalf("expected PNG signature")
	}
}

func TestOverlayRejectsOversizedImage(t *testing.T) {
	srv := anonymousServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions", map[string]any{"image_w": 1e10, "image_h": 1e10}, alice)
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions", map[string]any{"image_w": 16384, "image_h": 16384}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start status %d: %s", res.StatusCode, string(data))
	}
	s := decode[domain.Session](t, data)
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/sessions/"+s.ID+"/overlay.png", nil, alice)
	expectError(t, res, data, http.StatusUnprocessableEntity, "overlay_too_large")
}

func TestGroundTruthOverrideIsAllowListed(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowAnonymous: true}, func(c *config.Config) {
		c.GroundTruth.AllowedURLs = []string{"assets/animal_segmentation_gt.json"}
	})
	for _, url := range []string{"file:///etc/passwd", "../../secret.json", "http://169.254.169.254/latest"} {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions", map[string]any{"ground_truth_url": url}, alice)
		expectError(t, res, data, http.StatusForbidden, "ground_truth_not_allowed")
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions", map[string]any{"ground_truth_url": "assets/animal_segmentation_gt.json"}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("allowed override status %d: %s", res.StatusCode, string(data))
	}
	if s := decode[domain.Session](t, data); !s.GroundTruth.Loaded {
		t.Fatalf("allowed payload should load: %+v", s.GroundTruth)
	}
}

func TestWheelAndViewport(t *testing.T) {
	srv := anonymousServer(t)
	s := startSession(t, srv, alice)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+s.ID+"/wheel", map[string]any{"delta_y": -120, "ctrl": true}, alice)
	s = decode[domain.Session](t, data)
	if res.StatusCode != http.StatusOK || s.Viewport.Zoom != 1.1 {
		t.Fatalf("wheel %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+s.ID+"/viewport", map[string]any{"container_w": 200, "container_h": 400}, alice)
	s = decode[domain.Session](t, data)
	if res.StatusCode != http.StatusOK || s.Viewport.ScaleX != 1 || s.Viewport.OffsetY != 100 {
		t.Fatalf("viewport %d: %s", res.StatusCode, string(data))
	}
}

func TestSessionLimit(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowAnonymous: true}, func(c *config.Config) { c.Sessions.MaxSessions = 1 })
	startSession(t, srv, alice)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions", map[string]any{}, alice)
	expectError(t, res, data, http.StatusServiceUnavailable, "too_many_sessions")
}

func TestEventsPagination(t *testing.T) {
	srv := anonymousServer(t)
	for i := 0; i < 3; i++ {
		startSession(t, srv, alice)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?limit=2", nil, alice)
	page := decode[paginatedEvents](t, data)
	if res.StatusCode != http.StatusOK || len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("first page %s", string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?limit=2&cursor="+page.NextCursor, nil, alice)
	next := decode[paginatedEvents](t, data)
	if res.StatusCode != http.StatusOK || len(next.Items) != 1 || next.NextCursor != "" {
		t.Fatalf("second page %s", string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, alice)
	expectError(t, res, data, http.StatusBadRequest, "bad_request")
}

func TestWebhookDelivery(t *testing.T) {
	type delivery struct {
		header http.Header
		body   []byte
	}
	got := make(chan delivery, 4)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- delivery{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	srv := newTestServer(t, AuthConfig{AllowAnonymous: true}, func(c *config.Config) {
		c.Webhooks = []config.WebhookConfig{{URL: hook.URL, Secret: "s3cret", Events: []string{domain.EventAttemptClosed}}}
	})
	d := newWebhookDispatcher(srv.Engine.Config, srv.Engine.Repo, quietLogger())
	if d == nil {
		t.Fatalf("expected dispatcher")
	}
	ctx := context.Background()
	d.tick(ctx)

	s := startSession(t, srv, alice)
	clickAll(t, srv, s.ID, alice, [][2]float64{{0, 0}, {50, 0}, {50, 50}})
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+s.ID+"/keys", map[string]any{"key": "Enter"}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("close %d: %s", res.StatusCode, string(data))
	}
	d.tick(ctx)

	select {
	case dl := <-got:
		if dl.header.Get("X-Polyscore-Event") != domain.EventAttemptClosed {
			t.Fatalf("unexpected event header %q", dl.header.Get("X-Polyscore-Event"))
		}
		if dl.header.Get("X-Polyscore-Signature") != "sha256="+signPayload("s3cret", dl.body) {
			t.Fatalf("signature mismatch")
		}
		evt := decode[webhookEvent](t, dl.body)
		if evt.SessionID != s.ID || evt.PlayerID != "alice" {
			t.Fatalf("unexpected webhook body %s", string(dl.body))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no webhook delivered")
	}
	select {
	case dl := <-got:
		t.Fatalf("filtered event delivered: %s", string(dl.body))
	default:
	}
}

func TestOpenAPIDocumentIsDecorated(t *testing.T) {
	ts := newTestServer(t, AuthConfig{}, nil)

	resp, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/openapi.json", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("openapi should be public, got %d", resp.StatusCode)
	}
	var doc struct {
		Components struct {
			SecuritySchemes map[string]any `json:"securitySchemes"`
		} `json:"components"`
		Paths map[string]map[string]struct {
			Security  []map[string][]string `json:"security"`
			Responses map[string]any        `json:"responses"`
		} `json:"paths"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	if doc.Components.SecuritySchemes["bearerAuth"] == nil || doc.Components.SecuritySchemes["playerKeyAuth"] == nil {
		t.Fatalf("security schemes missing: %v", doc.Components.SecuritySchemes)
	}
	health := doc.Paths["/v0/health"]["get"]
	if len(health.Security) != 0 {
		t.Fatalf("health should be public, got %v", health.Security)
	}
	click := doc.Paths["/v0/sessions/{id}/clicks"]["post"]
	if len(click.Security) != 2 || click.Responses["default"] == nil {
		t.Fatalf("click operation not decorated: %+v", click)
	}

	resp, body = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/docs", nil, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `spec-url="/v0/openapi.json"`) {
		t.Fatalf("docs page unexpected: %d %s", resp.StatusCode, body)
	}
}

func TestWebhookRetriesFailedDelivery(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	srv := newTestServer(t, AuthConfig{AllowAnonymous: true}, func(c *config.Config) {
		c.Webhooks = []config.WebhookConfig{{URL: hook.URL}}
	})
	d := newWebhookDispatcher(srv.Engine.Config, srv.Engine.Repo, quietLogger())
	ctx := context.Background()
	d.tick(ctx)
	startSession(t, srv, alice)

	d.tick(ctx)
	failedAt := d.hooks[0].cursor
	d.tick(ctx)
	head, err := srv.Engine.Repo.LatestEventID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if failedAt == head || d.hooks[0].cursor != head {
		t.Fatalf("cursor should hold on failure and catch up on retry: failed=%d now=%d head=%d", failedAt, d.hooks[0].cursor, head)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected one failed and one retried delivery, got %d calls", calls)
	}
}
