package admission

import (
	"context"
	"sync"
	"time"
)

// Store is the persistence abstraction for rate limit windows.
// Implementations must make Take atomic: two concurrent calls for the same
// identity never both observe the same count.
type Store interface {
	// Take starts a fresh window for identity if none exists or the current
	// one has expired at now, then increments its count unless the count has
	// already reached limit. The returned bool reports whether the increment
	// happened. A rejected call leaves the window untouched.
	Take(ctx context.Context, identity string, now time.Time, window time.Duration, limit int) (Window, bool, error)
}

// InMemoryStore is a process-local Store. Windows are lost on restart.
type InMemoryStore struct {
	mu      sync.Mutex
	windows map[string]*Window
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		windows: make(map[string]*Window),
	}
}

// Take implements Store.Take.
func (s *InMemoryStore) Take(_ context.Context, identity string, now time.Time, window time.Duration, limit int) (Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[identity]
	if !ok || expired(w, now, window) {
		w = &Window{Identity: identity, Start: now}
		s.windows[identity] = w
	}

	if w.Count >= limit {
		return *w, false, nil
	}

	w.Count++
	return *w, true, nil
}

// Sweep drops windows that have expired at now and returns how many were
// removed.
func (s *InMemoryStore) Sweep(now time.Time, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, w := range s.windows {
		if expired(w, now, window) {
			delete(s.windows, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked identities.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func expired(w *Window, now time.Time, window time.Duration) bool {
	return now.After(w.Start.Add(window))
}
