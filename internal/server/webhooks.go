package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"polyscore/internal/config"
	"polyscore/internal/domain"
	"polyscore/internal/engine"
	"polyscore/internal/repo"
)

const (
	webhookInterval = 2 * time.Second
	webhookTimeout  = 5 * time.Second
	webhookBatch    = 100
)

// hook is one subscription with its delivery cursor. cursor is the id of the
// last event handled; -1 until the first tick pins it to the log head.
type hook struct {
	url    string
	secret string
	events []string
	client *http.Client
	cursor int64
}

func (h *hook) wants(eventType string) bool {
	return len(h.events) == 0 || slices.Contains(h.events, eventType)
}

// webhookDispatcher tails the event log and posts matching events. Only the
// run goroutine touches the hooks.
type webhookDispatcher struct {
	repo   repo.Repo
	hooks  []*hook
	logger *slog.Logger
}

// StartWebhookDispatcher delivers events to the configured hooks until ctx is
// done. It does nothing when no hook is enabled.
func StartWebhookDispatcher(ctx context.Context, e engine.Engine, logger *slog.Logger) {
	d := newWebhookDispatcher(e.Config, e.Repo, logger)
	if d == nil {
		return
	}
	go d.run(ctx, webhookInterval)
}

func newWebhookDispatcher(cfg *config.Config, r repo.Repo, logger *slog.Logger) *webhookDispatcher {
	if cfg == nil || r.DB == nil {
		return nil
	}
	var hooks []*hook
	for _, wh := range cfg.Webhooks {
		if wh.Enabled != nil && !*wh.Enabled {
			continue
		}
		timeout := webhookTimeout
		if wh.TimeoutSeconds > 0 {
			timeout = time.Duration(wh.TimeoutSeconds) * time.Second
		}
		var events []string
		for _, evt := range wh.Events {
			if evt = strings.TrimSpace(evt); evt != "" {
				events = append(events, evt)
			}
		}
		hooks = append(hooks, &hook{
			url:    wh.URL,
			secret: strings.TrimSpace(wh.Secret),
			events: events,
			client: &http.Client{Timeout: timeout},
			cursor: -1,
		})
	}
	if len(hooks) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &webhookDispatcher{repo: r, hooks: hooks, logger: logger.With("component", "webhooks")}
}

func (d *webhookDispatcher) run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		d.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) tick(ctx context.Context) {
	for _, h := range d.hooks {
		if err := d.deliver(ctx, h); err != nil {
			d.logger.Warn("webhook delivery stalled", "url", h.url, "cursor", h.cursor, "error", err)
		}
	}
}

// deliver posts the hook's pending events in order and stops at the first
// failure so it is retried next tick.
func (d *webhookDispatcher) deliver(ctx context.Context, h *hook) error {
	if h.cursor < 0 {
		head, err := d.repo.LatestEventID(ctx)
		if err != nil {
			return fmt.Errorf("read log head: %w", err)
		}
		h.cursor = head
	}
	pending, err := d.repo.EventsAfter(ctx, webhookBatch, h.cursor)
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	for _, evt := range pending {
		if h.wants(evt.Type) {
			if err := d.post(ctx, h, evt); err != nil {
				return fmt.Errorf("event %d: %w", evt.ID, err)
			}
			d.logger.Debug("webhook delivered", "url", h.url, "event", evt.ID, "type", evt.Type)
		}
		h.cursor = evt.ID
	}
	return nil
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	PlayerID   string          `json:"player_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *webhookDispatcher) post(ctx context.Context, h *hook, evt domain.Event) error {
	body := webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		SessionID:  evt.SessionID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		PlayerID:   evt.PlayerID,
		TS:         evt.TS,
		Payload:    json.RawMessage("{}"),
	}
	if json.Valid([]byte(evt.Payload)) {
		body.Payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Polyscore-Event", evt.Type)
	req.Header.Set("X-Polyscore-Delivery", strconv.FormatInt(evt.ID, 10))
	if h.secret != "" {
		req.Header.Set("X-Polyscore-Signature", "sha256="+signPayload(h.secret, data))
	}
	res, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("status %d: %s", res.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

// signPayload is the hex HMAC-SHA256 of body. Receivers recompute it with
// the shared secret to authenticate a delivery.
func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
