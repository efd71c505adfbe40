package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"polyscore/internal/config"
	"polyscore/internal/groundtruth"
)

func TestParsePolygonEncodings(t *testing.T) {
	pairs, err := parsePolygon(`[[0,0],[10,0],[10,10]]`)
	if err != nil {
		t.Fatalf("pairs: %v", err)
	}
	flat, err := parsePolygon(`[0,0,10,0,10,10]`)
	if err != nil {
		t.Fatalf("flat: %v", err)
	}
	if len(pairs) != 3 || len(flat) != 3 {
		t.Fatalf("expected 3 points, got %d and %d", len(pairs), len(flat))
	}
	for i := range pairs {
		if pairs[i] != flat[i] {
			t.Fatalf("point %d differs: %v vs %v", i, pairs[i], flat[i])
		}
	}
	if _, err := parsePolygon(`[[0,0],[1,1]]`); err == nil {
		t.Fatalf("expected error for two points")
	}
	if _, err := parsePolygon(`{"x":1}`); err == nil {
		t.Fatalf("expected error for non-array")
	}
}

func TestParseScript(t *testing.T) {
	script, err := parseScript([]byte(`
image: {w: 200, h: 200}
container: {w: 100, h: 100}
steps:
  - click: [0, 0]
  - wait_ms: 400
  - wheel: {delta_y: -100, ctrl: true}
  - resize: {w: 50, h: 50}
  - key: Enter
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(script.Steps) != 5 || script.Image.W != 200 || script.Container.H != 100 {
		t.Fatalf("unexpected script %+v", script)
	}
	if script.Steps[2].Wheel == nil || !script.Steps[2].Wheel.Ctrl {
		t.Fatalf("wheel step not decoded: %+v", script.Steps[2])
	}

	bad := []string{
		"steps: []",
		"steps:\n  - click: [1]",
		"steps:\n  - {click: [1, 2], key: Enter}",
		"steps:\n  - wait_ms: -5",
	}
	for _, src := range bad {
		if _, err := parseScript([]byte(src)); err == nil {
			t.Fatalf("expected error for %q", src)
		}
	}
}

func TestDialAddr(t *testing.T) {
	cases := map[string]string{
		":8080":          "127.0.0.1:8080",
		"0.0.0.0:9000":   "127.0.0.1:9000",
		"localhost:8080": "localhost:8080",
	}
	for in, want := range cases {
		if got := dialAddr(in); got != want {
			t.Fatalf("dialAddr(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Log.Level = "warn"
	cfg.Log.File = filepath.Join(dir, "logs", "polyscore.log")

	var console bytes.Buffer
	logger, cleanup, err := newLogger(cfg, &console)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	logger.Debug("debug only to file", "k", 1)
	logger.Warn("warned")
	cleanup()

	if strings.Contains(console.String(), "debug only") || !strings.Contains(console.String(), "warned") {
		t.Fatalf("console level not applied: %q", console.String())
	}
	data, err := os.ReadFile(cfg.Log.File)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"debug only to file"`) {
		t.Fatalf("file missing debug record: %s", data)
	}

	cfg.Log.Level = "loud"
	if _, _, err := newLogger(cfg, &console); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestGroundTruthURLByPhase(t *testing.T) {
	cfg := config.Default()
	if got := groundTruthURL(cfg, "", false); got != "assets/ground_truth_polygons.json" {
		t.Fatalf("default phase: got %s", got)
	}
	if got := groundTruthURL(cfg, "", true); got != "assets/animal_segmentation_gt.json" {
		t.Fatalf("mode phase: got %s", got)
	}
	if got := groundTruthURL(cfg, "other.json", false); got != "other.json" {
		t.Fatalf("explicit url must win, got %s", got)
	}
	cfg.GroundTruth.DefaultURL = ""
	if got := groundTruthURL(cfg, "", false); got != groundtruth.DefaultURL {
		t.Fatalf("empty config must fall back, got %s", got)
	}
}
