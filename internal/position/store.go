package position

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Position store
// ---------------------------------------------------------------------------

var (
	// ErrExists is returned when adding a position for a mint already held.
	ErrExists = errors.New("position already exists")

	// ErrNotFound is returned for operations on a mint with no position.
	ErrNotFound = errors.New("position not found")
)

// Store persists open positions keyed by mint. Implementations are safe for
// concurrent use by the scan loop, the risk loop and the control surface.
type Store interface {
	// Has reports whether a position exists for the mint.
	Has(ctx context.Context, mint string) (bool, error)

	// Add inserts a new position. Returns ErrExists when the mint is held.
	Add(ctx context.Context, pos Position) error

	// Update applies a mutation to the position under the store's lock and
	// persists the result. Returns ErrNotFound when the mint is not held.
	Update(ctx context.Context, mint string, mutate func(*Position)) error

	// Remove deletes the position. Returns ErrNotFound when absent.
	Remove(ctx context.Context, mint string) error

	// List returns all open positions, ordered by open time then mint.
	List(ctx context.Context) ([]Position, error)
}

// ---------------------------------------------------------------------------
// File store — JSON array on disk
// ---------------------------------------------------------------------------

// FileStore keeps positions in memory and mirrors every change to a JSON
// file via write-to-temp-and-rename, so a crash mid-write never leaves a
// truncated file.
type FileStore struct {
	mu        sync.Mutex
	path      string
	positions map[string]Position
}

// NewFileStore opens (or creates) a JSON-backed store at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:      path,
		positions: make(map[string]Position),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run.
	case err != nil:
		return nil, fmt.Errorf("positions: read %s: %w", path, err)
	default:
		var list []Position
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("positions: parse %s: %w", path, err)
		}
		for _, pos := range list {
			s.positions[pos.Mint] = pos
		}
		log.Info().
			Int("count", len(list)).
			Str("path", path).
			Msg("positions: loaded from disk")
	}

	return s, nil
}

func (s *FileStore) Has(_ context.Context, mint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.positions[mint]
	return ok, nil
}

func (s *FileStore) Add(_ context.Context, pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.Mint]; ok {
		return fmt.Errorf("%w: %s", ErrExists, pos.Mint)
	}
	s.positions[pos.Mint] = pos
	return s.flushLocked()
}

func (s *FileStore) Update(_ context.Context, mint string, mutate func(*Position)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[mint]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, mint)
	}
	mutate(&pos)
	s.positions[mint] = pos
	return s.flushLocked()
}

func (s *FileStore) Remove(_ context.Context, mint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[mint]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, mint)
	}
	delete(s.positions, mint)
	return s.flushLocked()
}

func (s *FileStore) List(_ context.Context) ([]Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedLocked(s.positions), nil
}

// flushLocked rewrites the whole file. Position counts stay small (open
// holdings), so a full rewrite per change is fine.
func (s *FileStore) flushLocked() error {
	list := sortedLocked(s.positions)

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("positions: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("positions: mkdir %s: %w", dir, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("positions: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("positions: rename: %w", err)
	}
	return nil
}

func sortedLocked(m map[string]Position) []Position {
	list := make([]Position, 0, len(m))
	for _, pos := range m {
		list = append(list, pos)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].OpenedAt != list[j].OpenedAt {
			return list[i].OpenedAt < list[j].OpenedAt
		}
		return list[i].Mint < list[j].Mint
	})
	return list
}

// ---------------------------------------------------------------------------
// Memory store — tests and dry runs
// ---------------------------------------------------------------------------

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu        sync.Mutex
	positions map[string]Position
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[string]Position)}
}

func (s *MemoryStore) Has(_ context.Context, mint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.positions[mint]
	return ok, nil
}

func (s *MemoryStore) Add(_ context.Context, pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.Mint]; ok {
		return fmt.Errorf("%w: %s", ErrExists, pos.Mint)
	}
	s.positions[pos.Mint] = pos
	return nil
}

func (s *MemoryStore) Update(_ context.Context, mint string, mutate func(*Position)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[mint]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, mint)
	}
	mutate(&pos)
	s.positions[mint] = pos
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, mint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[mint]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, mint)
	}
	delete(s.positions, mint)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedLocked(s.positions), nil
}
