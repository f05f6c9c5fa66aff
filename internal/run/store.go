package run

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ErrNotFound is returned when no record exists for a run ID.
var ErrNotFound = errors.New("run not found")

// Store manages run records on disk. Each run owns a directory under baseDir
// holding record.json plus the artifacts published during the run.
type Store struct {
	baseDir string // defaults to ~/.pipewright/runs
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.pipewright/runs, creating the directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".pipewright", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// RunDir returns the directory owned by a run.
func (s *Store) RunDir(id string) string {
	return filepath.Join(s.baseDir, id)
}

// ArtifactDir returns the artifact directory for a run.
func (s *Store) ArtifactDir(id string) string {
	return filepath.Join(s.RunDir(id), "artifacts")
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.RunDir(id), "record.json")
}

// NewID generates a run ID: unix timestamp plus a short random suffix to keep
// IDs unique across runs triggered within the same second.
func NewID() string {
	buf := make([]byte, 2)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%d-%s", time.Now().Unix(), hex.EncodeToString(buf))
}

// Create initialises a new run record on disk.
func (s *Store) Create(pipeline string, workdir string) (*Record, error) {
	id := NewID()
	dir := s.RunDir(id)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("run %s already exists", id)
	}
	if err := os.MkdirAll(filepath.Join(dir, "artifacts"), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir run dir: %w", err)
	}

	rec := &Record{
		ID:        id,
		Pipeline:  pipeline,
		Workdir:   workdir,
		Status:    StatusPending,
		Stages:    []StageResult{},
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := WriteJSON(s.recordPath(id), rec); err != nil {
		return nil, fmt.Errorf("write record.json: %w", err)
	}
	return rec, nil
}

// Get reads the record for a run.
func (s *Store) Get(id string) (*Record, error) {
	var rec Record
	if err := ReadJSON(s.recordPath(id), &rec); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &rec, nil
}

// Update performs a read-modify-write of a run record. Terminal records are
// immutable and may not be updated.
func (s *Store) Update(id string, fn func(*Record)) (*Record, error) {
	rec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if rec.Terminal() {
		return nil, fmt.Errorf("run %s is %s and immutable", id, rec.Status)
	}
	fn(rec)
	if err := WriteJSON(s.recordPath(id), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns all recorded runs, newest first, optionally filtered by status.
// Pass "" for statusFilter to return all runs.
func (s *Store) List(statusFilter string) ([]Record, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []Record
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if statusFilter == "" || rec.Status == statusFilter {
			runs = append(runs, *rec)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].ID > runs[j].ID
	})
	return runs, nil
}

// Delete removes all data for a run.
func (s *Store) Delete(id string) error {
	dir := s.RunDir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return os.RemoveAll(dir)
}

// SaveReport writes the final structured report JSON into the run directory.
func (s *Store) SaveReport(id string, data []byte) error {
	return WriteAtomic(filepath.Join(s.RunDir(id), "report.json"), data)
}
