package syncstore

import "sync"

// CursorTracker enforces strictly monotonic per-subscription event ordering.
// Both the gateway and its clients run one; a replay or out-of-order delivery
// is rejected on either side.
type CursorTracker struct {
	mu   sync.Mutex
	last map[string]uint64
}

// NewCursorTracker creates an empty tracker.
func NewCursorTracker() *CursorTracker {
	return &CursorTracker{last: make(map[string]uint64)}
}

// Observe admits cursor for subscriptionID when it is strictly greater than
// the last accepted cursor. A fresh subscription has no last cursor, so
// cursor 0 is valid for the first event.
func (t *CursorTracker) Observe(subscriptionID string, cursor uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, seen := t.last[subscriptionID]
	if seen && cursor <= prev {
		return false
	}
	t.last[subscriptionID] = cursor
	return true
}

// Last returns the last accepted cursor for subscriptionID.
func (t *CursorTracker) Last(subscriptionID string) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cursor, ok := t.last[subscriptionID]
	return cursor, ok
}

// Forget drops all tracking state for subscriptionID. Used when a
// subscription is torn down so the id can be reused from scratch.
func (t *CursorTracker) Forget(subscriptionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, subscriptionID)
}
