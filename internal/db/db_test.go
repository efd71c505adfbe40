package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenCreatesStateDir(t *testing.T) {
	workspace := t.TempDir()
	conn, err := Open(context.Background(), workspace)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if _, err := os.Stat(filepath.Join(workspace, StateDir)); err != nil {
		t.Fatalf("state dir missing: %v", err)
	}
	var fk int
	if err := conn.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if fk != 1 {
		t.Fatalf("foreign keys must be on")
	}
	if _, err := conn.Exec("CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if _, err := os.Stat(Path(workspace)); err != nil {
		t.Fatalf("database file missing: %v", err)
	}
}

func TestOpenFailsOnUnusableWorkspace(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), file); err == nil {
		t.Fatalf("expected error when the workspace is a file")
	}
}
