package device

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/dasshubham762/atomberg-integration/internal/infrastructure/config"
	"github.com/dasshubham762/atomberg-integration/internal/infrastructure/database"
	"github.com/dasshubham762/atomberg-integration/migrations"
)

// openMigratedDB opens a temporary database with the production schema applied.
func openMigratedDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "atomberg.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db.DB
}

// fakeClock is a settable time source.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry(t *testing.T) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRegistry("acct-1")
	r.now = clock.Now
	return r, clock
}

func fanSnapshot(id, series string) Snapshot {
	return Snapshot{
		ID:     id,
		Name:   "Fan " + id,
		Model:  "Renesa",
		Series: series,
		Color:  "Gold",
		State: Patch{
			Power: Ptr(true),
			Speed: Ptr(3),
			Sleep: Ptr(false),
			LED:   Ptr(false),
		},
	}
}
