package module

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store]. It backs tests and DB-less development
// runs; ordering and reorder semantics match the Postgres implementation.
type MemStore struct {
	mu      sync.Mutex
	modules map[int64]Module
	nextID  int64
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{modules: make(map[int64]Module), nextID: 1}
}

// List implements [Store].
func (s *MemStore) List(_ context.Context) ([]Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Module, 0, len(s.modules))
	for _, m := range s.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get implements [Store].
func (s *MemStore) Get(_ context.Context, id int64) (Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.modules[id]
	if !ok {
		return Module{}, fmt.Errorf("memstore: get %d: %w", id, ErrNotFound)
	}
	return m, nil
}

// Create implements [Store].
func (s *MemStore) Create(_ context.Context, m Module) (Module, error) {
	if err := m.Validate(); err != nil {
		return Module{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = s.nextID
	s.nextID++
	m.Position = len(s.modules)
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	s.modules[m.ID] = m
	return m, nil
}

// Update implements [Store].
func (s *MemStore) Update(_ context.Context, m Module) (Module, error) {
	if err := m.Validate(); err != nil {
		return Module{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.modules[m.ID]
	if !ok {
		return Module{}, fmt.Errorf("memstore: update %d: %w", m.ID, ErrNotFound)
	}
	cur.Title = m.Title
	cur.Content = m.Content
	cur.PlainContent = m.PlainContent
	cur.Persona = m.Persona
	cur.Style = m.Style
	cur.UpdatedAt = time.Now().UTC()
	s.modules[cur.ID] = cur
	return cur, nil
}

// Delete implements [Store].
func (s *MemStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.modules[id]; !ok {
		return fmt.Errorf("memstore: delete %d: %w", id, ErrNotFound)
	}
	delete(s.modules, id)
	s.compactLocked()
	return nil
}

// Reorder implements [Store].
func (s *MemStore) Reorder(_ context.Context, orderedIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(orderedIDs) != len(s.modules) {
		return fmt.Errorf("memstore: reorder: got %d ids, have %d modules", len(orderedIDs), len(s.modules))
	}
	seen := make(map[int64]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if _, ok := s.modules[id]; !ok {
			return fmt.Errorf("memstore: reorder id %d: %w", id, ErrNotFound)
		}
		if seen[id] {
			return fmt.Errorf("memstore: reorder: duplicate id %d", id)
		}
		seen[id] = true
	}

	now := time.Now().UTC()
	for pos, id := range orderedIDs {
		m := s.modules[id]
		m.Position = pos
		m.UpdatedAt = now
		s.modules[id] = m
	}
	return nil
}

// UpdatePlainContent implements [Store].
func (s *MemStore) UpdatePlainContent(_ context.Context, id int64, plain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.modules[id]
	if !ok {
		return fmt.Errorf("memstore: update plain content %d: %w", id, ErrNotFound)
	}
	m.PlainContent = plain
	m.UpdatedAt = time.Now().UTC()
	s.modules[id] = m
	return nil
}

// compactLocked renumbers positions densely, preserving relative order.
// Must be called with s.mu held.
func (s *MemStore) compactLocked() {
	ids := make([]int64, 0, len(s.modules))
	for id := range s.modules {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.modules[ids[i]], s.modules[ids[j]]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.ID < b.ID
	})
	for pos, id := range ids {
		m := s.modules[id]
		m.Position = pos
		s.modules[id] = m
	}
}
