package client

import (
	"sort"
	"sync"

	"taskboard/domain"
)

// Registry is the client's keyed snapshot of the board. It holds no
// validation logic; the Engine is its only writer.
type Registry struct {
	mu        sync.RWMutex
	tasks     map[string]domain.Task
	listeners []func()
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]domain.Task)}
}

// OnChange registers fn to run after every mutating call.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (domain.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

func (r *Registry) Upsert(t domain.Task) {
	r.mu.Lock()
	r.tasks[t.ID] = t
	listeners := r.listeners
	r.mu.Unlock()
	notify(listeners)
}

// Remove deletes id and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.tasks[id]
	delete(r.tasks, id)
	listeners := r.listeners
	r.mu.Unlock()
	if ok {
		notify(listeners)
	}
	return ok
}

// List returns every task, newest first.
func (r *Registry) List() []domain.Task {
	r.mu.RLock()
	out := make([]domain.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

func notify(listeners []func()) {
	for _, fn := range listeners {
		fn()
	}
}
