package config

import "sync"

// Store holds the live configuration behind a mutex so the control surface
// can mutate thresholds while the scan and risk loops read them. Readers get
// a value copy via Snapshot; a loop iteration works off one snapshot.
type Store struct {
	mu  sync.RWMutex
	cfg Config
}

// NewStore wraps a configuration in a concurrent store.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: *cfg}
}

// Snapshot returns a copy of the current configuration. Slices are copied so
// the caller can hold the snapshot across a loop iteration.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.cfg
	cfg.Strategy.Queries = append([]string(nil), s.cfg.Strategy.Queries...)
	return cfg
}

// Update applies a mutation under the write lock.
func (s *Store) Update(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cfg)
}
