package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskboard/domain"
)

// Memory is an in-process task store used for local runs and tests.
type Memory struct {
	mu       sync.Mutex
	tasks    map[string]domain.Task
	exported []domain.Event
}

func NewMemory(seed ...domain.Task) *Memory {
	m := &Memory{tasks: make(map[string]domain.Task, len(seed))}
	for _, t := range seed {
		m.tasks[t.ID] = t
	}
	return m
}

func (m *Memory) FetchTasks(context.Context) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks := make([]domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	sortNewestFirst(tasks)
	return tasks, nil
}

func (m *Memory) GetTask(_ context.Context, id string) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, nil
}

func (m *Memory) CreateTask(_ context.Context, d domain.Draft, createdBy string) (domain.Task, error) {
	t := d.Task()
	t.ID = uuid.NewString()
	t.CreatedBy = createdBy
	t.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()
	t.Version = nextVersion()
	m.tasks[t.ID] = t
	return t, nil
}

func (m *Memory) UpdateTask(_ context.Context, id string, p domain.Patch) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	next := p.Apply(cur)
	next.Version = versionAfter(cur.Version)
	m.tasks[id] = next
	return next, nil
}

func (m *Memory) DeleteTask(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	delete(m.tasks, id)
	return versionAfter(cur.Version), nil
}

// ExportEvent records the event; Exported returns what was recorded.
func (m *Memory) ExportEvent(_ context.Context, ev domain.Event) error {
	m.mu.Lock()
	m.exported = append(m.exported, ev)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Exported() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Event, len(m.exported))
	copy(out, m.exported)
	return out
}
