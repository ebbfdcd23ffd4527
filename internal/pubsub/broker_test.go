package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToAllSubscribers(t *testing.T) {
	b := NewBroker[string]()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1 := b.Subscribe(ctx)
	ch2 := b.Subscribe(ctx)

	b.Publish(CreatedEvent, "hello")

	for _, ch := range []<-chan Event[string]{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, CreatedEvent, ev.Type)
			assert.Equal(t, "hello", ev.Payload)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	b := NewBrokerWithBuffer[int](1)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx)

	b.Publish(UpdatedEvent, 1)
	b.Publish(UpdatedEvent, 2) // buffer full, dropped

	ev := <-ch
	assert.Equal(t, 1, ev.Payload)

	select {
	case ev := <-ch:
		t.Fatalf("expected drop, got %v", ev.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerUnsubscribeOnContextCancel(t *testing.T) {
	b := NewBroker[string]()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx)
	require.Equal(t, 1, b.SubscriberCount())

	cancel()

	// The cleanup goroutine closes the channel.
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	assert.Eventually(t, func() bool {
		return b.SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestBrokerSubscribeAfterClose(t *testing.T) {
	b := NewBroker[string]()
	b.Close()

	ch := b.Subscribe(context.Background())
	_, ok := <-ch
	assert.False(t, ok, "subscription on closed broker must be closed")

	// Publishing after close is a no-op.
	b.Publish(CreatedEvent, "ignored")
}
