package client

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jmoyers/harness-sub014/internal/config"
	"github.com/jmoyers/harness-sub014/internal/gateway"
	"github.com/jmoyers/harness-sub014/internal/infrastructure/sqlite"
	"github.com/jmoyers/harness-sub014/internal/protocol"
	"github.com/jmoyers/harness-sub014/internal/record"
	"github.com/jmoyers/harness-sub014/internal/syncstore"
)

const testToken = "client-test-token"

var clientTestScope = record.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"}

func startGateway(t *testing.T) int {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv, err := gateway.NewServer(config.Defaults(), store, testToken, noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)
	port, err := srv.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("gateway did not shut down")
		}
	})
	return port
}

func dialClient(t *testing.T, port int, store *syncstore.Store) *Client {
	t.Helper()
	c, err := Dial(Options{
		Port:      port,
		AuthToken: testToken,
		Scope:     clientTestScope,
		Store:     store,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDialRejectsBadToken(t *testing.T) {
	port := startGateway(t)

	_, err := Dial(Options{Port: port, AuthToken: "wrong", Scope: clientTestScope})
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.KindAuthFailed, perr.Kind)
}

func TestObservedEventsFeedSyncedStore(t *testing.T) {
	port := startGateway(t)
	store := syncstore.NewStore()
	c := dialClient(t, port, store)

	_, err := c.Request(context.Background(), "conversation.create", map[string]any{
		"conversationId": "c1",
		"directoryId":    "d1",
		"title":          "",
		"agentType":      "codex",
		"path":           t.TempDir(),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := store.GetState().Conversations.Get("c1")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	_, err = c.Request(context.Background(), "conversation.update", map[string]any{
		"conversationId": "c1",
		"title":          "Alpha",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		conv, ok := store.GetState().Conversations.Get("c1")
		return ok && conv.Title == "Alpha"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCatchUpReplaysMissedEvents(t *testing.T) {
	port := startGateway(t)

	writer := dialClient(t, port, nil)
	for _, id := range []string{"t1", "t2"} {
		_, err := writer.Request(context.Background(), "task.create", map[string]any{
			"task": map[string]any{"taskId": id, "title": "task " + id},
		})
		require.NoError(t, err)
	}

	// A late joiner missed the live frames; catch-up replays them from the
	// persisted log.
	store := syncstore.NewStore()
	late := dialClient(t, port, store)
	require.NoError(t, late.CatchUp(context.Background()))

	assert.Equal(t, 2, store.GetState().Tasks.Len())

	// Replaying again is rejected by the cursor tracker: same state, no
	// duplicate notifications.
	notified := 0
	unsubscribe := store.Subscribe(func(syncstore.SyncedState) { notified++ })
	defer unsubscribe()
	require.NoError(t, late.CatchUp(context.Background()))
	assert.Equal(t, 2, store.GetState().Tasks.Len())
	assert.Zero(t, notified)
}

func TestPTYOutputReachesCallback(t *testing.T) {
	port := startGateway(t)

	var mu sync.Mutex
	var output []byte
	c, err := Dial(Options{
		Port:      port,
		AuthToken: testToken,
		Scope:     clientTestScope,
		OnPTYOutput: func(_ string, _ uint64, data []byte) {
			mu.Lock()
			defer mu.Unlock()
			output = append(output, data...)
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	_, err = c.Request(context.Background(), "pty.start", map[string]any{
		"sessionId": "s1",
		"args":      []string{"/bin/sh", "-c", "printf client-stream; sleep 30"},
		"cwd":       t.TempDir(),
		"cols":      80,
		"rows":      24,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = c.Request(context.Background(), "pty.close", map[string]any{"sessionId": "s1"})
	})

	result, err := c.Request(context.Background(), "pty.attach", map[string]any{
		"sessionId": "s1", "sinceCursor": 0,
	})
	require.NoError(t, err)
	var attach struct {
		Replay []byte `json:"replay"`
	}
	require.NoError(t, json.Unmarshal(result, &attach))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		combined := string(attach.Replay) + string(output)
		return strings.Contains(combined, "client-stream")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRequestReturnsTypedErrors(t *testing.T) {
	port := startGateway(t)
	c := dialClient(t, port, nil)

	_, err := c.Request(context.Background(), "session.status", map[string]any{"sessionId": "missing"})
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.KindNotFound, perr.Kind)
	assert.False(t, perr.Retryable)
}

func TestRequestFailsAfterClose(t *testing.T) {
	port := startGateway(t)
	c := dialClient(t, port, nil)

	require.NoError(t, c.Close())
	_, err := c.Request(context.Background(), "task.list", nil)
	assert.ErrorIs(t, err, ErrClosed)
}
