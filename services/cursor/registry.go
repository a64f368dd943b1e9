// Package cursor keeps the in-process read positions of cyclic record streams.
//
// Each key owns a slot with its own lock. Consume holds that lock across the
// whole read-stream-write step so two callers on the same key never start from
// the same offset; the registry lock only guards slot lookup. Positions live
// for the lifetime of the process and are never persisted.
package cursor

import "sync"

type slot struct {
	mu   sync.Mutex
	next int
}

// Registry maps keys to the next unread position.
type Registry[K comparable] struct {
	mu    sync.Mutex
	slots map[K]*slot
}

func New[K comparable]() *Registry[K] {
	return &Registry[K]{slots: make(map[K]*slot)}
}

func (r *Registry[K]) slot(key K) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[key]
	if !ok {
		s = &slot{}
		r.slots[key] = s
	}
	return s
}

// lookup returns the slot of key without creating it.
func (r *Registry[K]) lookup(key K) (*slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[key]
	return s, ok
}

// Read returns the stored position for key, 0 when absent.
func (r *Registry[K]) Read(key K) int {
	s, ok := r.lookup(key)
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Write stores the next position for key.
func (r *Registry[K]) Write(key K, next int) {
	s := r.slot(key)
	s.mu.Lock()
	s.next = next
	s.mu.Unlock()
}

// Consume runs fn with the current position of key while holding the key's
// lock and stores the position fn returns. When fn fails the stored position
// is left untouched.
func (r *Registry[K]) Consume(key K, fn func(start int) (next int, err error)) error {
	s := r.slot(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.next)
	if err != nil {
		return err
	}
	s.next = next
	return nil
}

// Reset rewinds key to 0. Absent keys are left absent.
func (r *Registry[K]) Reset(key K) {
	s, ok := r.lookup(key)
	if !ok {
		return
	}
	s.mu.Lock()
	s.next = 0
	s.mu.Unlock()
}

// Len returns the number of keys written or consumed so far.
func (r *Registry[K]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Snapshot copies every stored position.
func (r *Registry[K]) Snapshot() map[K]int {
	r.mu.Lock()
	slots := make(map[K]*slot, len(r.slots))
	for k, s := range r.slots {
		slots[k] = s
	}
	r.mu.Unlock()

	out := make(map[K]int, len(slots))
	for k, s := range slots {
		s.mu.Lock()
		out[k] = s.next
		s.mu.Unlock()
	}
	return out
}
