package session

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Info describes a registered session without exposing its owner.
type Info struct {
	ID           string    `json:"session_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

type entry[T comparable] struct {
	value        T
	registeredAt time.Time
}

// Registry maps upstream session ids to the live relay that owns them.
// It is safe for concurrent use.
type Registry[T comparable] struct {
	mu       sync.RWMutex
	sessions map[string]entry[T]
	onChange func(active int)
}

func NewRegistry[T comparable]() *Registry[T] {
	return &Registry[T]{
		sessions: make(map[string]entry[T]),
	}
}

// SetChangeHook installs a callback invoked with the active count after every
// register or unregister.
func (r *Registry[T]) SetChangeHook(hook func(active int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = hook
}

// Register binds id to value. A duplicate id overwrites the previous owner.
func (r *Registry[T]) Register(id string, value T) {
	if id == "" {
		return
	}
	r.mu.Lock()
	r.sessions[id] = entry[T]{value: value, registeredAt: time.Now().UTC()}
	hook, count := r.onChange, len(r.sessions)
	r.mu.Unlock()

	if hook != nil {
		hook(count)
	}
}

// Unregister removes id only while it is still owned by value, so a relay
// tearing down late cannot evict a newer owner of the same id.
func (r *Registry[T]) Unregister(id string, value T) bool {
	r.mu.Lock()
	current, ok := r.sessions[id]
	if !ok || current.value != value {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, id)
	hook, count := r.onChange, len(r.sessions)
	r.mu.Unlock()

	if hook != nil {
		hook(count)
	}
	return true
}

func (r *Registry[T]) Lookup(id string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return e.value, nil
}

func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns registered sessions ordered by registration time.
func (r *Registry[T]) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for id, e := range r.sessions {
		out = append(out, Info{ID: id, RegisteredAt: e.registeredAt})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}
