package telemetry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/unklstewy/flight-tracker/pkg/geo"
)

func TestSnapshotStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewSnapshotStore(filepath.Join(dir, "state", "snapshot.msgpack.zst"), 0)
	captured := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return captured.Add(time.Minute) }

	snap := &Snapshot{
		CapturedAt: captured,
		Source:     "opensky",
		Reports: []Report{{
			VehicleID:   "abc123",
			Callsign:    strPtr("UAL123"),
			Position:    &geo.Coordinate{Latitude: 40.1, Longitude: -100.2},
			LastContact: captured.Add(-5 * time.Second),
			VelocityMps: floatPtr(240),
		}},
	}

	if err := store.Save(snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected snapshot, got nil")
	}
	if got.Source != "opensky" || len(got.Reports) != 1 {
		t.Fatalf("Unexpected snapshot: %+v", got)
	}
	r := got.Reports[0]
	if r.CallsignValue() != "UAL123" {
		t.Errorf("Expected callsign UAL123, got %q", r.CallsignValue())
	}
	if r.Position == nil || r.Position.Latitude != 40.1 {
		t.Errorf("Expected position to survive, got %v", r.Position)
	}
	if !got.CapturedAt.Equal(captured) {
		t.Errorf("Expected captured at %v, got %v", captured, got.CapturedAt)
	}
}

func TestSnapshotStoreExpired(t *testing.T) {
	store := NewSnapshotStore(filepath.Join(t.TempDir(), "snap"), 300*time.Second)
	captured := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Save(&Snapshot{CapturedAt: captured, Source: "x"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	store.now = func() time.Time { return captured.Add(300 * time.Second) }
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected expired snapshot to be ignored, got %+v", got)
	}
}

func TestSnapshotStoreMissingAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap")
	store := NewSnapshotStore(path, 0)

	got, err := store.Load()
	if err != nil || got != nil {
		t.Errorf("Expected nil, nil for missing file, got %v, %v", got, err)
	}

	if err := store.Clear(); err != nil {
		t.Errorf("Clear on missing file should succeed, got %v", err)
	}

	store.now = func() time.Time { return time.Unix(0, 0) }
	if err := store.Save(&Snapshot{CapturedAt: time.Unix(0, 0)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected file removed, stat returned %v", err)
	}
}

func TestSnapshotStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap")
	if err := os.WriteFile(path, []byte("not zstd"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewSnapshotStore(path, 0).Load(); err == nil {
		t.Error("Expected error for corrupt file")
	}
}
