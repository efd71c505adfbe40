package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"polyscore/internal/assets"
	"polyscore/internal/capture"
	"polyscore/internal/config"
	"polyscore/internal/domain"
	"polyscore/internal/events"
	"polyscore/internal/groundtruth"
	"polyscore/internal/render"
	"polyscore/internal/repo"
	"polyscore/internal/result"
	"polyscore/internal/timing"
	"polyscore/internal/viewport"
)

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrTooManySessions       = errors.New("too many active sessions")
	ErrImageSizeUnknown      = errors.New("image size unknown")
	ErrOverlayTooLarge       = errors.New("overlay too large")
	ErrGroundTruthNotAllowed = errors.New("ground truth url not allowed")
)

// MaxOverlayPixels bounds the canvas Overlay will allocate.
const MaxOverlayPixels = 1 << 25

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Now       func() time.Time
	Scheduler timing.Scheduler
	Fetcher   *groundtruth.Fetcher
	Assets    assets.Store
	Renderer  *render.Renderer
	Logger    *slog.Logger

	sessions *registry
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Now:       time.Now,
		Scheduler: timing.RealScheduler{},
		Fetcher:   groundtruth.NewFetcher(cfg.GroundTruth.AssetsDir, cfg.FetchTimeout(), logger.With("component", "groundtruth")),
		Assets:    assets.Store{Root: cfg.GroundTruth.AssetsDir},
		Renderer:  render.New(),
		Logger:    logger,
		sessions:  newRegistry(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// StartOptions describe an annotation-mode entry.
type StartOptions struct {
	PlayerID string
	// GroundTruthURL overrides the configured mode URL for this session. It
	// must be listed in ground_truth.allowed_urls.
	GroundTruthURL string
	ImageW         float64
	ImageH         float64
	ContainerW     float64
	ContainerH     float64
}

// StartSession enters annotation mode: it loads ground truth, sizes the
// viewport and returns an idle session. The countdown is not armed until the
// first point.
func (e Engine) StartSession(ctx context.Context, opts StartOptions) (domain.Session, error) {
	if limit := e.Config.Sessions.MaxSessions; limit > 0 && e.sessions.len() >= limit {
		e.Prune(ctx)
		if e.sessions.len() >= limit {
			return domain.Session{}, ErrTooManySessions
		}
	}
	gtURL, err := e.modeURL(opts.GroundTruthURL)
	if err != nil {
		return domain.Session{}, err
	}
	playerID := opts.PlayerID
	if playerID == "" {
		playerID = "anonymous"
	}
	now := e.now()
	s := &session{
		id:        uuid.New().String(),
		playerID:  playerID,
		view:      viewport.New(e.zoomConfig()),
		gtURL:     gtURL,
		createdAt: now,
		updatedAt: now,
	}
	ctrl := timing.NewController(e.Scheduler, e.Config.Timeout())
	s.machine = capture.New(capture.Config{
		DoubleClickWindow: e.Config.DoubleClickWindow(),
		Classifier: result.Classifier{
			PerfectThreshold: e.Config.Game.PerfectThreshold,
			TimeBudget:       e.Config.Timeout(),
		},
		Now: e.now,
	}, ctrl, func(h timing.Handle) { e.expire(s, h) })

	s.setGroundTruth(e.fetch(ctx, s.gtURL))
	imgW, imgH := opts.ImageW, opts.ImageH
	if imgW <= 0 || imgH <= 0 {
		imgW, imgH = e.configuredImageSize()
	}
	if imgW > 0 && imgH > 0 {
		s.view.SetImage(imgW, imgH)
	}
	if opts.ContainerW > 0 && opts.ContainerH > 0 {
		s.view.SetContainer(opts.ContainerW, opts.ContainerH)
	}
	s.view.EnterMode()

	e.sessions.put(s)
	e.appendEvent(ctx, s, domain.EventSessionStarted, events.EventPayload{
		"ground_truth_url": s.gtURL,
		"ground_truth":     s.gt != nil,
	})
	e.logger().Info("session started", "session", s.id, "player", s.playerID, "ground_truth", s.gtURL, "loaded", s.gt != nil)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(e.Config.Timeout()), nil
}

// Restart re-enters annotation mode on an existing session: the pending
// countdown is cancelled, points are discarded and ground truth is reloaded.
// The payload is fetched before the session is locked.
func (e Engine) Restart(ctx context.Context, id string) (domain.Session, error) {
	s, ok := e.sessions.get(id)
	if !ok {
		return domain.Session{}, ErrSessionNotFound
	}
	s.mu.Lock()
	gtURL := s.gtURL
	s.mu.Unlock()
	gt := e.fetch(ctx, gtURL)
	return e.withSession(id, func(s *session) error {
		s.machine.Reset()
		s.result = nil
		s.notice = ""
		s.setGroundTruth(gt)
		s.view.EnterMode()
		e.appendEvent(ctx, s, domain.EventSessionRestarted, events.EventPayload{"ground_truth": s.gt != nil})
		return nil
	})
}

// Get returns the session snapshot.
func (e Engine) Get(_ context.Context, id string) (domain.Session, error) {
	return e.withSession(id, func(*session) error { return nil })
}

// ClickInput is a pointer click in container pixels.
type ClickInput struct {
	X, Y float64
	// At is the client's timestamp of the click, used for double-click
	// detection. Values in the future or before the session began are replaced
	// by the server time.
	At *time.Time
}

// Click converts the click to canonical space and feeds the capture machine.
func (e Engine) Click(ctx context.Context, id string, in ClickInput) (domain.Session, error) {
	return e.withSession(id, func(s *session) error {
		at := e.now()
		if in.At != nil && !in.At.After(at) && !in.At.Before(s.createdAt) {
			at = *in.At
		}
		p := s.view.ToCanonical(in.X, in.Y)
		out, err := s.machine.Click(p, at)
		if err != nil {
			return err
		}
		s.notice = ""
		if out != nil {
			e.record(ctx, s, out)
		}
		return nil
	})
}

// Key handles a key press: "d" deletes the last point, "Enter" closes.
func (e Engine) Key(ctx context.Context, id, key string) (domain.Session, error) {
	return e.withSession(id, func(s *session) error {
		out, err := s.machine.Key(key, e.now())
		if errors.Is(err, capture.ErrNeedMorePoints) {
			s.notice = "Need 3+ points"
		}
		if err != nil {
			return err
		}
		if out != nil {
			e.record(ctx, s, out)
		}
		return nil
	})
}

// Wheel applies a scroll gesture. Only modifier-held gestures change zoom.
func (e Engine) Wheel(_ context.Context, id string, deltaY float64, modifier bool) (domain.Session, error) {
	return e.withSession(id, func(s *session) error {
		s.view.Wheel(deltaY, modifier)
		return nil
	})
}

// ViewportInput reports a container resize and/or an image load. Zero fields
// are left unchanged.
type ViewportInput struct {
	ContainerW, ContainerH float64
	ImageW, ImageH         float64
}

func (e Engine) Viewport(_ context.Context, id string, in ViewportInput) (domain.Session, error) {
	return e.withSession(id, func(s *session) error {
		if in.ImageW > 0 && in.ImageH > 0 {
			s.view.SetImage(in.ImageW, in.ImageH)
		}
		if in.ContainerW > 0 && in.ContainerH > 0 {
			s.view.SetContainer(in.ContainerW, in.ContainerH)
		}
		return nil
	})
}

// Leave exits annotation mode: the countdown is cancelled, points are
// discarded and the session is dropped. reason is "ack" when the player
// dismissed the result, "cancel" for the close control.
func (e Engine) Leave(ctx context.Context, id, reason string) (domain.Session, error) {
	s, ok := e.sessions.take(id)
	if !ok {
		return domain.Session{}, ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.machine.State()
	s.left = true
	s.machine.Reset()
	s.view.LeaveMode()
	s.updatedAt = e.now()
	e.appendEvent(ctx, s, domain.EventSessionLeft, events.EventPayload{"reason": reason, "state": string(state)})
	snap := s.snapshot(e.Config.Timeout())
	snap.State = string(state)
	return snap, nil
}

// Overlay renders the session's ground truth and polygon as PNG at the image's
// natural size. After the attempt ends the final polygon is drawn.
func (e Engine) Overlay(_ context.Context, id string, w io.Writer) error {
	s, ok := e.sessions.get(id)
	if !ok {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	frame := render.Frame{GroundTruth: s.gt.Polygons(), Current: s.machine.Points()}
	if out := s.machine.Outcome(); out != nil {
		frame.Current = out.Polygon
	}
	size := s.view.Image()
	if size.W <= 0 || size.H <= 0 {
		size = s.view.Container()
	}
	s.mu.Unlock()
	if size.W <= 0 || size.H <= 0 {
		return ErrImageSizeUnknown
	}
	if size.W*size.H > MaxOverlayPixels {
		return fmt.Errorf("%w: %.0fx%.0f exceeds %d pixels", ErrOverlayTooLarge, size.W, size.H, MaxOverlayPixels)
	}
	return e.Renderer.PNG(w, int(size.W), int(size.H), frame)
}

// Prune drops sessions idle for longer than the configured TTL and returns
// how many were removed.
func (e Engine) Prune(ctx context.Context) int {
	cutoff := e.now().Add(-e.Config.SessionTTL())
	stale := e.sessions.takeIdle(cutoff)
	for _, s := range stale {
		s.mu.Lock()
		state := s.machine.State()
		s.left = true
		s.machine.Reset()
		e.appendEvent(ctx, s, domain.EventSessionLeft, events.EventPayload{"reason": "expired", "state": string(state)})
		s.mu.Unlock()
		e.logger().Debug("session expired", "session", s.id)
	}
	return len(stale)
}

// RunPruner prunes on every tick until ctx is done.
func (e Engine) RunPruner(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.Prune(ctx); n > 0 {
				e.logger().Info("pruned idle sessions", "count", n)
			}
		}
	}
}

// Shutdown cancels every pending countdown.
func (e Engine) Shutdown() {
	for _, s := range e.sessions.drain() {
		s.mu.Lock()
		s.left = true
		s.machine.Reset()
		s.mu.Unlock()
	}
}

// ActiveSessions reports the registry size.
func (e Engine) ActiveSessions() int {
	return e.sessions.len()
}

func (e Engine) withSession(id string, fn func(*session) error) (domain.Session, error) {
	s, ok := e.sessions.get(id)
	if !ok {
		return domain.Session{}, ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left {
		return domain.Session{}, ErrSessionNotFound
	}
	err := fn(s)
	s.updatedAt = e.now()
	snap := s.snapshot(e.Config.Timeout())
	if err != nil {
		return snap, err
	}
	return snap, nil
}

// expire runs on the scheduler's goroutine and re-enters through the session lock.
func (e Engine) expire(s *session, h timing.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left {
		return
	}
	out := s.machine.Expire(h)
	if out == nil {
		return
	}
	s.updatedAt = e.now()
	e.record(context.Background(), s, out)
}

// record persists a terminal outcome with its event. Failures are logged; the
// outcome stands either way.
func (e Engine) record(ctx context.Context, s *session, out *capture.Outcome) {
	res := e.resultFor(s, out)
	s.result = &res
	evtType := domain.EventAttemptClosed
	if out.TimedOut {
		evtType = domain.EventAttemptTimedOut
	}
	log := e.logger().With("session", s.id, "player", s.playerID)
	if err := e.persist(ctx, s, res, evtType); err != nil {
		log.Error("failed to record result", "error", err)
		return
	}
	log.Info("attempt ended", "state", res.State, "category", res.Category, "points", res.PointCount, "elapsed_ms", res.ElapsedMS)
}

func (e Engine) persist(ctx context.Context, s *session, res domain.Result, evtType string) error {
	if e.DB == nil {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertResult(ctx, tx, res); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	payload := events.EventPayload{
		"result_id": res.ID,
		"category":  res.Category,
		"points":    res.PointCount,
		"scorable":  res.Scorable,
	}
	if res.Score != nil {
		payload["score"] = *res.Score
	}
	if res.Percent != nil {
		payload["percent"] = *res.Percent
	}
	if _, err := e.Events.Append(ctx, tx, events.Entry{
		Type:       evtType,
		SessionID:  s.id,
		EntityKind: "result",
		EntityID:   res.ID,
		PlayerID:   s.playerID,
		Payload:    payload,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) resultFor(s *session, out *capture.Outcome) domain.Result {
	res := domain.Result{
		ID:         uuid.New().String(),
		SessionID:  s.id,
		PlayerID:   s.playerID,
		State:      string(out.State),
		TimedOut:   out.TimedOut,
		Percent:    out.Feedback.Percent,
		Category:   string(out.Feedback.Category),
		Scorable:   out.Scorable,
		PointCount: len(out.Polygon),
		Polygon:    out.Polygon,
		EndedAt:    formatTime(out.EndedAt),
		ElapsedMS:  out.Elapsed.Milliseconds(),
		CreatedAt:  formatTime(e.now()),
	}
	if s.gt != nil {
		res.GroundTruth = s.gtURL
	}
	if out.Score.Valid {
		v := out.Score.Value
		res.Score = &v
	}
	if snap := s.machine.Snapshot(); snap.FirstPointAt != nil {
		v := formatTime(*snap.FirstPointAt)
		res.FirstPointAt = &v
	}
	return res
}

// appendEvent writes a lifecycle event outside any result transaction.
func (e Engine) appendEvent(ctx context.Context, s *session, typ string, payload events.EventPayload) {
	if e.DB == nil {
		return
	}
	if _, err := e.Events.AppendOne(ctx, events.Entry{
		Type:       typ,
		SessionID:  s.id,
		EntityKind: "session",
		EntityID:   s.id,
		PlayerID:   s.playerID,
		Payload:    payload,
	}); err != nil {
		e.logger().Error("failed to append event", "type", typ, "session", s.id, "error", err)
	}
}

func (e Engine) zoomConfig() viewport.ZoomConfig {
	z := e.Config.Game.Zoom
	return viewport.ZoomConfig{Min: z.Min, Max: z.Max, Step: z.Step}
}

func (e Engine) modeURL(override string) (string, error) {
	if override = strings.TrimSpace(override); override != "" {
		if !e.Config.GroundTruthAllowed(override) {
			return "", fmt.Errorf("%w: %s", ErrGroundTruthNotAllowed, override)
		}
		return override, nil
	}
	if e.Config.GroundTruth.ModeURL != "" {
		return e.Config.GroundTruth.ModeURL, nil
	}
	return groundtruth.ModeURL, nil
}

func (e Engine) fetch(ctx context.Context, url string) *groundtruth.Set {
	if e.Fetcher == nil {
		return nil
	}
	return e.Fetcher.Load(ctx, url)
}

// configuredImageSize uses the configured natural size, else probes the
// configured image file. Zero means unknown.
func (e Engine) configuredImageSize() (float64, float64) {
	img := e.Config.Image
	if img.Width > 0 && img.Height > 0 {
		return float64(img.Width), float64(img.Height)
	}
	if img.Source == "" {
		return 0, 0
	}
	info, err := e.Assets.Probe(img.Source)
	if err != nil {
		e.logger().Warn("cannot probe annotation image", "source", img.Source, "error", err)
		return 0, 0
	}
	return float64(info.Width), float64(info.Height)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
