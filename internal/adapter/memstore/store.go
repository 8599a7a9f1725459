// Package memstore implements the task store port with a mutex-guarded map.
// Storage is volatile by design; records live for at most the retention
// horizon and die with the process.
package memstore

import (
	"context"
	"sync"

	"github.com/donahuenet/imagen/internal/domain"
	"github.com/donahuenet/imagen/internal/domain/task"
)

// Store is an in-memory task registry. Every read returns a copy, so
// callers can never mutate a record outside Update.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task
}

// New creates an empty store.
func New() *Store {
	return &Store{tasks: make(map[string]*task.Task)}
}

// Create inserts the task. The stored record is a copy of t.
func (s *Store) Create(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return domain.ErrConflict
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

// Get returns a snapshot of the task with the given id.
func (s *Store) Get(_ context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// Update applies fn under the lock and returns a snapshot of the result.
// An id that was deleted (or never created) is not resurrected.
func (s *Store) Update(_ context.Context, id string, fn func(*task.Task)) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	fn(t)
	cp := *t
	return &cp, nil
}

// Delete removes the task. Absent ids are a no-op.
func (s *Store) Delete(_ context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

// ForEach visits a snapshot of every task. The visit callback runs outside
// the lock, so a sweep can call Delete from inside it.
func (s *Store) ForEach(_ context.Context, visit func(*task.Task)) {
	s.mu.RLock()
	snapshots := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		snapshots = append(snapshots, *t)
	}
	s.mu.RUnlock()

	for i := range snapshots {
		visit(&snapshots[i])
	}
}

// Len returns the number of live tasks.
func (s *Store) Len(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}
