package syncstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreApplyObservedNotifiesOncePerChange(t *testing.T) {
	store := NewStore()

	var notifications int
	unsub := store.Subscribe(func(SyncedState) { notifications++ })
	defer unsub()

	ok := store.ApplyObserved("sub", 1, event(EventDirectoryUpserted,
		map[string]any{"directory": wireDirectory("d1")}))
	require.True(t, ok)
	assert.Equal(t, 1, notifications)

	// A no-op reduction is accepted but does not notify.
	ok = store.ApplyObserved("sub", 2, event(EventSessionStatus,
		map[string]any{"sessionId": "missing", "status": "running"}))
	require.True(t, ok)
	assert.Equal(t, 1, notifications)
}

func TestStoreRejectsStaleCursor(t *testing.T) {
	store := NewStore()
	ev := event(EventDirectoryUpserted, map[string]any{"directory": wireDirectory("d1")})

	require.True(t, store.ApplyObserved("sub", 3, ev))
	assert.False(t, store.ApplyObserved("sub", 3, ev))
	assert.False(t, store.ApplyObserved("sub", 2, ev))
	assert.True(t, store.ApplyObserved("sub", 4, ev))
}

func TestStoreListenersInRegistrationOrder(t *testing.T) {
	store := NewStore()

	var order []string
	store.Subscribe(func(SyncedState) { order = append(order, "first") })
	store.Subscribe(func(SyncedState) { order = append(order, "second") })

	store.ApplyObserved("sub", 1, event(EventDirectoryUpserted,
		map[string]any{"directory": wireDirectory("d1")}))

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestStoreUnsubscribeStopsNotifications(t *testing.T) {
	store := NewStore()

	var count int
	unsub := store.Subscribe(func(SyncedState) { count++ })

	store.ApplyObserved("sub", 1, event(EventDirectoryUpserted,
		map[string]any{"directory": wireDirectory("d1")}))
	unsub()
	store.ApplyObserved("sub", 2, event(EventDirectoryUpserted,
		map[string]any{"directory": wireDirectory("d2")}))

	assert.Equal(t, 1, count)
}

// S1: create and rename a conversation; the conversation list selector emits
// exactly two change notifications.
func TestStoreCreateAndRenameConversationScenario(t *testing.T) {
	store := NewStore()
	sel := NewConversationListSelector()

	var changes [][]ConversationSummary
	unsub := SubscribeSelector(store, sel, func(list []ConversationSummary) {
		changes = append(changes, list)
	}, nil)
	defer unsub()

	store.ApplyObserved("sub", 1, event(EventDirectoryUpserted,
		map[string]any{"directory": wireDirectory("d1")}))
	store.ApplyObserved("sub", 2, event(EventConversationCreated,
		map[string]any{"conversation": wireConversation("c1", "d1")}))

	renamed := wireConversation("c1", "d1")
	renamed["title"] = "Alpha"
	store.ApplyObserved("sub", 3, event(EventConversationUpdated,
		map[string]any{"conversation": renamed}))

	require.Len(t, changes, 2, "directory upsert must not touch the conversation projection")
	assert.Equal(t, "", changes[0][0].Title)
	assert.Equal(t, "Alpha", changes[1][0].Title)
}

// S4: a subscriber joining mid-stream applies only cursors above its replay
// point; re-submitting an already-applied cursor is rejected.
func TestStoreMidStreamSubscriberReplay(t *testing.T) {
	events := []Event{
		event(EventDirectoryUpserted, map[string]any{"directory": wireDirectory("d1")}),
		event(EventDirectoryUpserted, map[string]any{"directory": wireDirectory("d2")}),
		event(EventDirectoryUpserted, map[string]any{"directory": wireDirectory("d3")}),
	}

	early1, early2, late := NewStore(), NewStore(), NewStore()
	for i, ev := range events {
		require.True(t, early1.ApplyObserved("s", uint64(i+1), ev))
		require.True(t, early2.ApplyObserved("s", uint64(i+1), ev))
	}

	// The late subscriber replays from sinceCursor=1: it receives 2 and 3.
	require.True(t, late.Cursors().Observe("s", 1)) // seed at replay point
	require.True(t, late.ApplyObserved("s", 2, events[1]))
	require.True(t, late.ApplyObserved("s", 3, events[2]))
	assert.False(t, late.ApplyObserved("s", 3, events[2]), "re-submitted cursor rejected")

	assert.Equal(t, 3, early1.GetState().Directories.Len())
}
