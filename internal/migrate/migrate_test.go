package migrate

import (
	"context"
	"testing"

	"polyscore/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	for i := 0; i < 2; i++ {
		if err := Migrate(conn); err != nil {
			t.Fatalf("migrate #%d: %v", i+1, err)
		}
	}
	var version int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if version != migrations[len(migrations)-1].Version {
		t.Fatalf("unexpected schema version %d", version)
	}
	for _, table := range []string{"results", "events"} {
		var n int
		if err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil || n != 1 {
			t.Fatalf("table %s missing (err=%v)", table, err)
		}
	}
}
