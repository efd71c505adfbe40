// Package db locates and opens the workspace SQLite database.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// StateDir holds the database inside a workspace.
const StateDir = ".polyscore"

const fileName = "polyscore.db"

// pragmas apply to every pooled connection.
var pragmas = []string{"foreign_keys(1)", "busy_timeout(5000)"}

func stateDir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, StateDir)
}

// Path is the database file of workspace; "" is the current directory.
func Path(workspace string) string {
	return filepath.Join(stateDir(workspace), fileName)
}

// EnsureWorkspace creates the state directory and returns it.
func EnsureWorkspace(workspace string) (string, error) {
	dir := stateDir(workspace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return dir, nil
}

func dsn(path string) string {
	var b strings.Builder
	b.WriteString("file:")
	b.WriteString(path)
	b.WriteString("?cache=shared")
	for _, p := range pragmas {
		b.WriteString("&_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

// Open opens the workspace database, creating the state directory first. The
// connection is pinged so an unusable path fails here rather than on first use.
func Open(ctx context.Context, workspace string) (*sql.DB, error) {
	if _, err := EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	path := Path(workspace)
	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return conn, nil
}
