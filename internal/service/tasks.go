// internal/service/tasks.go
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xkilldash9x/totemscrape/api/schemas"
)

// ErrTaskNotFound is returned for unknown or expired task IDs.
var ErrTaskNotFound = errors.New("task not found")

// TaskStore keeps the bookkeeping record of submitted extractions.
type TaskStore interface {
	Create(ctx context.Context, task schemas.Task) error
	Get(ctx context.Context, id string) (schemas.Task, error)
	Update(ctx context.Context, task schemas.Task) error
	// Cleanup removes finished tasks that completed before cutoff and
	// returns how many were removed.
	Cleanup(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryTaskStore is a process-local TaskStore.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]schemas.Task
}

var _ TaskStore = (*MemoryTaskStore)(nil)

// NewMemoryTaskStore returns an empty store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]schemas.Task)}
}

func (m *MemoryTaskStore) Create(_ context.Context, task schemas.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.TaskID] = task
	return nil
}

func (m *MemoryTaskStore) Get(_ context.Context, id string) (schemas.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return schemas.Task{}, ErrTaskNotFound
	}
	return t, nil
}

func (m *MemoryTaskStore) Update(_ context.Context, task schemas.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.TaskID]; !ok {
		return ErrTaskNotFound
	}
	m.tasks[task.TaskID] = task
	return nil
}

func (m *MemoryTaskStore) Cleanup(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, t := range m.tasks {
		if expired(t, cutoff) {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many tasks are held.
func (m *MemoryTaskStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

// expired reports whether a finished task completed before cutoff. Running
// tasks never expire.
func expired(t schemas.Task, cutoff time.Time) bool {
	return t.Status.Terminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff)
}
