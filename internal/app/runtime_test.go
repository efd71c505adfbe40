package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"polyscore/internal/config"
)

func TestLoadConfigDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(dir, Overrides{})
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.GroundTruth.AssetsDir != dir {
		t.Fatalf("assets dir should resolve to workspace, got %s", cfg.GroundTruth.AssetsDir)
	}

	yml := "game:\n  timeout_ms: 5000\nlog:\n  file: logs/polyscore.log\n"
	if err := os.WriteFile(config.Path(dir), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	anon := true
	cfg, err = LoadConfig(dir, Overrides{GroundTruthURL: "https://example.test/gt.json", AllowAnonymous: &anon, Addr: ":9090"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Game.TimeoutMS != 5000 || cfg.Game.DoubleClickMS != 300 {
		t.Fatalf("file values not layered over defaults: %+v", cfg.Game)
	}
	if cfg.GroundTruth.ModeURL != "https://example.test/gt.json" || !cfg.Auth.AllowAnonymous || cfg.Server.Addr != ":9090" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Log.File != filepath.Join(dir, "logs", "polyscore.log") {
		t.Fatalf("log file not resolved: %s", cfg.Log.File)
	}

	if _, err := LoadConfig(dir, Overrides{LogLevel: "loud"}); err == nil {
		t.Fatalf("expected invalid log level to fail validation")
	}
}

func TestOpenRuntime(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(dir, Overrides{})
	if err != nil {
		t.Fatal(err)
	}
	rt, err := Open(context.Background(), dir, cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if _, err := os.Stat(filepath.Join(dir, ".polyscore", "polyscore.db")); err != nil {
		t.Fatalf("db not created: %v", err)
	}
	stats, err := rt.Engine.Repo.Stats(context.Background(), "")
	if err != nil || stats.Attempts != 0 {
		t.Fatalf("fresh ledger expected: %+v (%v)", stats, err)
	}
}
