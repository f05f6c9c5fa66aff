// Package artifact records named outputs produced by stages, keyed uniquely
// within a run. Artifacts are immutable once published; the store protects
// the audit trail by refusing duplicate names instead of overwriting.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jholloway/pipewright/internal/run"
)

// ErrDuplicate is returned when publishing under a name already taken in
// this run.
var ErrDuplicate = errors.New("duplicate artifact")

// ErrNotFound is returned when fetching an artifact that was never published.
var ErrNotFound = errors.New("artifact not found")

// Handle describes a published artifact. The blob it points at is never
// mutated after publish.
type Handle struct {
	Name      string `json:"name"`
	Stage     string `json:"stage"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	Retain    bool   `json:"retain,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Store is a per-run artifact store backed by the run's artifact directory.
// Writes are append-only and guarded by an insert-if-absent check, so it is
// safe to publish from concurrently running stages.
type Store struct {
	dir string

	mu     sync.Mutex
	byName map[string]Handle
	order  []string
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir, byName: make(map[string]Handle)}, nil
}

// Open loads a Store from an existing artifact directory, reading the
// persisted index. Used by read-only consumers (status CLI, web API).
func Open(dir string) (*Store, error) {
	s := &Store{dir: dir, byName: make(map[string]Handle)}
	var index []Handle
	if err := run.ReadJSON(filepath.Join(dir, "index.json"), &index); err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	for _, h := range index {
		s.byName[h.Name] = h
		s.order = append(s.order, h.Name)
	}
	return s, nil
}

// Publish stores content under name for the producing stage and returns an
// immutable handle. Publishing a name twice within the same run fails with
// ErrDuplicate rather than overwriting.
func (s *Store) Publish(stage, name string, content []byte, retain bool) (Handle, error) {
	if err := checkName(name); err != nil {
		return Handle{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[name]; exists {
		return Handle{}, fmt.Errorf("artifact %q: %w", name, ErrDuplicate)
	}

	blobPath := filepath.Join(s.dir, name)
	if err := run.WriteAtomic(blobPath, content); err != nil {
		return Handle{}, fmt.Errorf("write artifact %q: %w", name, err)
	}

	h := Handle{
		Name:      name,
		Stage:     stage,
		Path:      blobPath,
		Size:      int64(len(content)),
		Retain:    retain,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	s.byName[name] = h
	s.order = append(s.order, name)

	if err := s.writeIndexLocked(); err != nil {
		return Handle{}, err
	}
	return h, nil
}

// checkName rejects names that would resolve outside the artifact directory
// or collide with the store's index. The blob path is always a direct child
// of the store dir; anything else would let two names alias one blob or let
// a publish overwrite files the store does not own.
func checkName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("artifact name must not be empty")
	case name != filepath.Base(name):
		return fmt.Errorf("artifact name %q must not contain path separators", name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("artifact name %q must not start with a dot", name)
	case name == "index.json":
		return fmt.Errorf("artifact name %q is reserved", name)
	}
	return nil
}

// Fetch returns the handle for a published artifact.
func (s *Store) Fetch(name string) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.byName[name]
	if !ok {
		return Handle{}, fmt.Errorf("artifact %q: %w", name, ErrNotFound)
	}
	return h, nil
}

// Content reads the blob for a published artifact.
func (s *Store) Content(name string) ([]byte, error) {
	h, err := s.Fetch(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(h.Path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %q: %w", name, err)
	}
	return data, nil
}

// List returns all published handles in publish order.
func (s *Store) List() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Handle, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.byName[name])
	}
	return out
}

// writeIndexLocked persists the index for later read-only consumers.
// Callers must hold s.mu.
func (s *Store) writeIndexLocked() error {
	index := make([]Handle, 0, len(s.order))
	for _, name := range s.order {
		index = append(index, s.byName[name])
	}
	if err := run.WriteJSON(filepath.Join(s.dir, "index.json"), index); err != nil {
		return fmt.Errorf("write artifact index: %w", err)
	}
	return nil
}
