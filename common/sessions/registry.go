package sessions

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Registry holds one value per session, built on first use
type Registry[T any] struct {
	mu    sync.Mutex
	items map[string]T
	group singleflight.Group
}

// NewRegistry creates an empty registry
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T)}
}

// Get returns the value of sessionID, calling factory if there is none yet.
// factory runs at most once per session as long as it succeeds; a failed
// factory leaves nothing behind. Concurrent callers for one session share a
// single factory call, and it runs without holding the registry lock.
func (r *Registry[T]) Get(sessionID string, factory func() (T, error)) (T, error) {
	if v, ok := r.Lookup(sessionID); ok {
		return v, nil
	}

	v, err, _ := r.group.Do(sessionID, func() (any, error) {
		// a flight that finished since the lookup above already stored it
		if v, ok := r.Lookup(sessionID); ok {
			return v, nil
		}
		v, err := factory()
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.items[sessionID] = v
		r.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Lookup returns the value of sessionID without creating it
func (r *Registry[T]) Lookup(sessionID string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[sessionID]
	return v, ok
}

// Drop forgets sessionID
func (r *Registry[T]) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, sessionID)
}

// Len returns the number of sessions held
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
