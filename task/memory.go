package task

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It is used by tests and by the
// daemon when no database is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	now   func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task), now: time.Now}
}

// WithClock replaces the time source; tests use it to pin timestamps.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Create(_ context.Context, ownerID string, d Draft) (*Task, error) {
	t := newTask(ownerID, d, m.now())
	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()
	return t.Clone(), nil
}

func (m *MemoryStore) Get(_ context.Context, ownerID, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok || t.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, ownerID, id string, p Patch) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	next := t.Clone()
	p.ApplyTo(next)
	next.UpdatedAt = touch(next.CreatedAt, m.now())
	m.tasks[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) Delete(_ context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *MemoryStore) List(_ context.Context, ownerID string, f Filter) ([]*Task, error) {
	m.mu.RLock()
	var out []*Task
	for _, t := range m.tasks {
		if t.OwnerID == ownerID && f.Match(t) {
			out = append(out, t.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return Less(out[i], out[j]) })
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
