package gateway

import (
	"encoding/json"
	"sync"

	"github.com/jmoyers/harness-sub014/internal/infrastructure/sqlite"
	"github.com/jmoyers/harness-sub014/internal/log"
	"github.com/jmoyers/harness-sub014/internal/protocol"
	"github.com/jmoyers/harness-sub014/internal/record"
)

// Hub fans observed events and PTY frames out to connection subscribers.
// Events get a strictly-increasing global cursor, are persisted to the
// event log, and are enqueued per subscriber in cursor order. A subscriber
// whose bounded queue overflows is evicted with backpressure rather than
// stalling the hub.
type Hub struct {
	eventLog *sqlite.EventLogRepo
	buffer   int

	mu     sync.Mutex
	cursor uint64
	subs   map[string]*subscriber
}

type subscriber struct {
	id       string
	scope    record.Scope
	queue    chan any
	overflow func()

	mu         sync.Mutex
	ptyOutput  map[string]struct{} // session ids streamed to this subscriber
	ptyEvents  map[string]struct{} // session ids whose exits this subscriber wants
	overflowed bool
}

// NewHub creates a hub whose next cursor follows seed, typically the event
// log's max cursor so cursors stay monotonic across restarts.
func NewHub(eventLog *sqlite.EventLogRepo, seed uint64, buffer int) *Hub {
	return &Hub{
		eventLog: eventLog,
		buffer:   buffer,
		cursor:   seed,
		subs:     make(map[string]*subscriber),
	}
}

// Subscribe registers a workspace-events subscriber. overflow is invoked
// once, off the hub lock, when the subscriber's queue fills up.
func (h *Hub) Subscribe(id string, scope record.Scope, overflow func()) <-chan any {
	sub := &subscriber{
		id:        id,
		scope:     scope,
		queue:     make(chan any, h.buffer),
		overflow:  overflow,
		ptyOutput: make(map[string]struct{}),
		ptyEvents: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()
	return sub.queue
}

// Unsubscribe removes a subscriber.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// AttachPTYOutput routes a session's output frames to subscriber id.
func (h *Hub) AttachPTYOutput(id, sessionID string) {
	h.withSub(id, func(sub *subscriber) {
		sub.mu.Lock()
		sub.ptyOutput[sessionID] = struct{}{}
		sub.mu.Unlock()
	})
}

// DetachPTYOutput stops routing a session's output to subscriber id.
func (h *Hub) DetachPTYOutput(id, sessionID string) {
	h.withSub(id, func(sub *subscriber) {
		sub.mu.Lock()
		delete(sub.ptyOutput, sessionID)
		sub.mu.Unlock()
	})
}

// SubscribePTYEvents routes a session's exit frames to subscriber id.
func (h *Hub) SubscribePTYEvents(id, sessionID string) {
	h.withSub(id, func(sub *subscriber) {
		sub.mu.Lock()
		sub.ptyEvents[sessionID] = struct{}{}
		sub.mu.Unlock()
	})
}

// UnsubscribePTYEvents stops routing a session's exit frames.
func (h *Hub) UnsubscribePTYEvents(id, sessionID string) {
	h.withSub(id, func(sub *subscriber) {
		sub.mu.Lock()
		delete(sub.ptyEvents, sessionID)
		sub.mu.Unlock()
	})
}

func (h *Hub) withSub(id string, fn func(*subscriber)) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	h.mu.Unlock()
	if ok {
		fn(sub)
	}
}

// Broadcast persists one observed event and delivers it to every
// subscriber in scope. Returns the event's cursor.
func (h *Hub) Broadcast(scope record.Scope, kind string, payload json.RawMessage) (uint64, error) {
	h.mu.Lock()
	h.cursor++
	cursor := h.cursor
	if err := h.eventLog.Append(scope, cursor, kind, payload, nowISO()); err != nil {
		h.cursor--
		h.mu.Unlock()
		return 0, err
	}

	var evicted []*subscriber
	for _, sub := range h.subs {
		if sub.scope != scope {
			continue
		}
		frame := protocol.ObservedFrame{
			Type:           protocol.FrameObserved,
			SubscriptionID: sub.id,
			Cursor:         cursor,
			Event:          payload,
		}
		if !h.enqueueLocked(sub, frame) {
			evicted = append(evicted, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range evicted {
		sub.overflow()
	}
	return cursor, nil
}

// PublishPTYOutput delivers one output chunk to every subscriber attached
// to the session.
func (h *Hub) PublishPTYOutput(sessionID string, cursor uint64, data []byte) {
	frame := protocol.PTYOutputFrame{
		Type:      protocol.FramePTYOutput,
		SessionID: sessionID,
		Cursor:    cursor,
		Bytes:     data,
	}
	h.publishPTY(sessionID, frame, func(sub *subscriber) bool {
		_, ok := sub.ptyOutput[sessionID]
		return ok
	})
}

// PublishPTYExit delivers a session exit to its event subscribers and to
// attached output readers.
func (h *Hub) PublishPTYExit(sessionID string, exit record.LastExit) {
	frame := protocol.PTYExitFrame{
		Type:      protocol.FramePTYExit,
		SessionID: sessionID,
		Code:      exit.Code,
		Signal:    exit.Signal,
	}
	h.publishPTY(sessionID, frame, func(sub *subscriber) bool {
		if _, ok := sub.ptyEvents[sessionID]; ok {
			return true
		}
		_, ok := sub.ptyOutput[sessionID]
		return ok
	})
}

func (h *Hub) publishPTY(sessionID string, frame any, wants func(*subscriber) bool) {
	h.mu.Lock()
	var evicted []*subscriber
	for _, sub := range h.subs {
		sub.mu.Lock()
		interested := wants(sub)
		sub.mu.Unlock()
		if !interested {
			continue
		}
		if !h.enqueueLocked(sub, frame) {
			evicted = append(evicted, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range evicted {
		sub.overflow()
	}
}

// enqueueLocked queues a frame without blocking. A full queue marks the
// subscriber overflowed and removes it; delivery order within the queue is
// cursor order because enqueueing happens under the hub lock.
func (h *Hub) enqueueLocked(sub *subscriber, frame any) bool {
	if sub.overflowed {
		return true // already being torn down
	}
	select {
	case sub.queue <- frame:
		return true
	default:
		sub.overflowed = true
		delete(h.subs, sub.id)
		log.Warn(log.CatGateway, "subscriber evicted on backpressure", "subscription", sub.id)
		return false
	}
}
