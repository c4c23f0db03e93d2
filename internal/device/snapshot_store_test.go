package device

import (
	"context"
	"testing"
)

func TestSQLiteSnapshotStore_RoundTrip(t *testing.T) {
	store := NewSQLiteSnapshotStore(openMigratedDB(t))
	ctx := context.Background()

	devices := []Device{
		{ID: "fan-2", Name: "Hall", Model: "Efficio", Series: "R1", State: State{Power: true, Speed: 2, Online: true}},
		{ID: "fan-1", Name: "Study", Model: "Aris", Series: "I1", State: State{Brightness: Ptr(60), LightMode: Ptr(LightModeWarm)}},
	}
	if err := store.Save(ctx, "acct-1", devices); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(ctx, "acct-2", []Device{{ID: "fan-9", Name: "Other", Series: "K1"}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 2 || loaded[0].ID != "fan-1" {
		t.Fatalf("Load() = %+v, want fan-1 and fan-2", loaded)
	}
	if loaded[0].State.LightMode == nil || *loaded[0].State.LightMode != LightModeWarm {
		t.Errorf("light mode not persisted: %+v", loaded[0].State)
	}
	if loaded[1].State.Online {
		t.Error("online flag must not be persisted")
	}
	if loaded[1].AccountID != "acct-1" {
		t.Errorf("AccountID = %q, want acct-1", loaded[1].AccountID)
	}
}

func TestSQLiteSnapshotStore_SaveReplaces(t *testing.T) {
	store := NewSQLiteSnapshotStore(openMigratedDB(t))
	ctx := context.Background()

	store.Save(ctx, "acct-1", []Device{{ID: "fan-1", Series: "R1"}, {ID: "fan-2", Series: "R1"}}) //nolint:errcheck // setup
	if err := store.Save(ctx, "acct-1", []Device{{ID: "fan-2", Series: "R1"}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, _ := store.Load(ctx, "acct-1")
	if len(loaded) != 1 || loaded[0].ID != "fan-2" {
		t.Errorf("Load() = %+v, want only fan-2", loaded)
	}

	if err := store.Delete(ctx, "acct-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if loaded, _ := store.Load(ctx, "acct-1"); len(loaded) != 0 {
		t.Errorf("Load() after Delete = %+v", loaded)
	}
}
