package syncstore

import (
	"sync"

	"github.com/jmoyers/harness-sub014/internal/log"
)

// Listener is notified with the new state after every successful state
// replacement.
type Listener func(SyncedState)

// Store holds the current synced state and fans change notifications out to
// listeners. It is accessed from a single task per client; the internal lock
// only guards against listener registration racing with event application.
type Store struct {
	mu        sync.Mutex
	state     SyncedState
	cursors   *CursorTracker
	listeners []storeListener
	nextID    int
}

type storeListener struct {
	id int
	fn Listener
}

// NewStore creates a store with an empty state and a fresh cursor tracker.
func NewStore() *Store {
	return &Store{
		state:   NewState(),
		cursors: NewCursorTracker(),
	}
}

// GetState returns the current state. The state value is immutable; callers
// may hold it across ticks without copying.
func (s *Store) GetState() SyncedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cursors exposes the store's cursor tracker so a client connection can seed
// replay positions.
func (s *Store) Cursors() *CursorTracker {
	return s.cursors
}

// Subscribe registers a listener, invoked after every successful state
// replacement in registration order, once per change. The returned function
// unsubscribes.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, storeListener{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// ApplyObserved applies one observed event for a subscription. Ordering is
// delegated to the cursor tracker: a stale or replayed cursor is rejected
// and the event discarded. Accepted events are reduced; listeners fire only
// when the reduction changed the state.
func (s *Store) ApplyObserved(subscriptionID string, cursor uint64, ev Event) bool {
	if !s.cursors.Observe(subscriptionID, cursor) {
		log.Debug(log.CatStore, "rejected stale cursor",
			"subscription", subscriptionID, "cursor", cursor)
		return false
	}

	s.mu.Lock()
	res := Reduce(s.state, ev)
	if !res.Changed {
		s.mu.Unlock()
		return true
	}
	s.state = res.State
	listeners := make([]storeListener, len(s.listeners))
	copy(listeners, s.listeners)
	state := s.state
	s.mu.Unlock()

	for _, l := range listeners {
		l.fn(state)
	}
	return true
}
