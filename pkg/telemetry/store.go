package telemetry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultSnapshotMaxAge is how long a persisted snapshot stays usable.
const DefaultSnapshotMaxAge = 300 * time.Second

// SnapshotStore persists the most recent snapshot to disk so a restart
// inside the snapshot TTL can resume with telemetry instead of falling
// back to offline estimation.
//
// The file format is msgpack-encoded Snapshot, compressed with zstd.
type SnapshotStore struct {
	path   string
	maxAge time.Duration
	now    func() time.Time
}

// NewSnapshotStore creates a store at path. A non-positive maxAge uses
// DefaultSnapshotMaxAge.
func NewSnapshotStore(path string, maxAge time.Duration) *SnapshotStore {
	if maxAge <= 0 {
		maxAge = DefaultSnapshotMaxAge
	}
	return &SnapshotStore{path: path, maxAge: maxAge, now: time.Now}
}

// Path returns the backing file path.
func (s *SnapshotStore) Path() string {
	return s.path
}

// Save writes snap atomically by encoding to a temporary file in the
// same directory and renaming it over the target.
func (s *SnapshotStore) Save(snap *Snapshot) error {
	if snap == nil {
		return errors.New("snapshot store: nil snapshot")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(s.path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if err := msgpack.NewEncoder(zw).Encode(snap); err != nil {
		zw.Close()
		f.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}
	return nil
}

// Load returns the persisted snapshot if it exists and is younger than
// the store's max age. Returns nil, nil when there is no usable snapshot.
func (s *SnapshotStore) Load() (*Snapshot, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer zr.Close()

	var snap Snapshot
	if err := msgpack.NewDecoder(zr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	if snap.Age(s.now()) >= s.maxAge {
		return nil, nil
	}
	return &snap, nil
}

// Clear removes the persisted snapshot, if any.
func (s *SnapshotStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove snapshot file: %w", err)
	}
	return nil
}
