package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"mod-watchdog/internal/workshop"
)

// Entry is what survives of a mod record between runs.
type Entry struct {
	Name      string `json:"name"`
	UpdatedAt int64  `json:"time_updated"`
}

// Snapshot maps mod id to its last observed entry.
type Snapshot map[string]Entry

// FromResult keeps the (id, name, updatedAt) triples of a fetch.
func FromResult(res workshop.Result) Snapshot {
	s := make(Snapshot, len(res.Records))
	for id, rec := range res.Records {
		s[id] = Entry{Name: rec.Name, UpdatedAt: rec.UpdatedAt}
	}
	return s
}

// ErrNotFound is returned by Load when no snapshot has been written yet.
var ErrNotFound = errors.New("snapshot: not found")

type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

func (s *Store) Load() (Snapshot, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", s.path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("snapshot: decode %s: %w", s.path, err)
	}
	if snap == nil {
		// A literal "null" is as good as a corrupt file.
		return nil, fmt.Errorf("snapshot: decode %s: empty document", s.path)
	}
	return snap, nil
}

// Replace atomically publishes snap as the new snapshot.
func (s *Store) Replace(snap Snapshot) error {
	if snap == nil {
		snap = Snapshot{}
	}
	b, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	return WriteFileAtomic(s.path, append(b, '\n'), 0o644)
}

// WriteFileAtomic writes data to a temporary file next to path, syncs it and
// renames it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create tmp: %w", err)
	}
	tmp := f.Name()
	fail := func(err error) error {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if _, err := f.Write(data); err != nil {
		return fail(fmt.Errorf("write tmp: %w", err))
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("sync tmp: %w", err))
	}
	if err := f.Chmod(perm); err != nil {
		return fail(fmt.Errorf("chmod tmp: %w", err))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
