package syncstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestCursorTrackerFreshSubscriptionAcceptsZero(t *testing.T) {
	tr := NewCursorTracker()
	assert.True(t, tr.Observe("sub-1", 0))
	assert.False(t, tr.Observe("sub-1", 0), "replayed cursor rejected")
	assert.True(t, tr.Observe("sub-1", 1))
}

func TestCursorTrackerRejectsStaleAndEqual(t *testing.T) {
	tr := NewCursorTracker()
	assert.True(t, tr.Observe("s", 5))
	assert.False(t, tr.Observe("s", 4))
	assert.False(t, tr.Observe("s", 5))
	assert.True(t, tr.Observe("s", 6))
}

func TestCursorTrackerIndependentSubscriptions(t *testing.T) {
	tr := NewCursorTracker()
	assert.True(t, tr.Observe("a", 10))
	assert.True(t, tr.Observe("b", 1))
	assert.False(t, tr.Observe("a", 10))
	assert.True(t, tr.Observe("b", 2))
}

func TestCursorTrackerForget(t *testing.T) {
	tr := NewCursorTracker()
	assert.True(t, tr.Observe("s", 9))
	tr.Forget("s")
	assert.True(t, tr.Observe("s", 0), "forgotten subscription starts fresh")
}

// Property: accept(cursor) implies cursor > lastAccepted, for any trace.
func TestCursorTrackerMonotonicityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tr := NewCursorTracker()
		lastAccepted := make(map[string]uint64)
		seen := make(map[string]bool)

		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			sub := rapid.SampledFrom([]string{"a", "b", "c"}).Draw(t, "sub")
			cursor := rapid.Uint64Range(0, 50).Draw(t, "cursor")

			accepted := tr.Observe(sub, cursor)
			if accepted {
				if seen[sub] && cursor <= lastAccepted[sub] {
					t.Fatalf("accepted non-monotonic cursor %d after %d", cursor, lastAccepted[sub])
				}
				lastAccepted[sub] = cursor
				seen[sub] = true
			} else {
				if !seen[sub] {
					t.Fatalf("rejected first cursor %d on fresh subscription", cursor)
				}
				if cursor > lastAccepted[sub] {
					t.Fatalf("rejected advancing cursor %d after %d", cursor, lastAccepted[sub])
				}
			}
		}
	})
}
