package polyscoresdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClickSendsCredentialsAndBody(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"s1","state":"drawing","points":[{"x":2,"y":4}],"timer_armed":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	at := time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)
	s, err := c.Click(context.Background(), "s1", 1, 2, at)
	if err != nil {
		t.Fatalf("click: %v", err)
	}
	if gotPath != "/v0/sessions/s1/clicks" || gotAuth != "Bearer tok" {
		t.Fatalf("unexpected request %s %q", gotPath, gotAuth)
	}
	if gotBody["x"] != 1.0 || gotBody["at"] != "2026-01-01T00:00:01Z" {
		t.Fatalf("unexpected body %v", gotBody)
	}
	if s.State != "drawing" || len(s.Points) != 1 || !s.TimerArmed {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestErrorEnvelopeDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Player-Id") != "alice" {
			t.Errorf("missing player header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":{"code":"need_more_points","message":"need 3+ points"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.PlayerID = "alice"
	_, err := c.Key(context.Background(), "s1", "Enter")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Code != "need_more_points" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestOverlayStreamsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNGdata"))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	if err := New(srv.URL).Overlay(context.Background(), "s1", &buf); err != nil {
		t.Fatalf("overlay: %v", err)
	}
	if buf.String() != "\x89PNGdata" {
		t.Fatalf("unexpected body %q", buf.String())
	}
}
