package store

import (
	"context"
	"sync"
	"time"

	"github.com/yokitheyo/diagramq/internal/model"
)

// MemoryStore is a process-local Store. Tasks are stored by value so a
// returned copy can never be mutated behind the store's back.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]model.Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]model.Task),
	}
}

func (s *MemoryStore) Create(_ context.Context, task model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return ErrExists
	}
	s.tasks[task.ID] = task
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Task, error) {
	s.mu.RLock()
	task, ok := s.tasks[id]
	s.mu.RUnlock()

	if !ok {
		return model.Task{}, ErrNotFound
	}
	return task, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn MutateFunc) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	next, err := guardTerminal(current, fn)
	if err != nil {
		return current, err
	}
	s.tasks[id] = next
	return next, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Sweep drops terminal tasks that finished before cutoff and returns how
// many were removed.
func (s *MemoryStore) Sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, task := range s.tasks {
		if task.FinishedAt != nil && task.FinishedAt.Before(cutoff) {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}
